// This file classifies raw 32-byte directory records by type and decodes
// each known layout. assembleFileRecord groups a primary File record with
// its secondaries into the FileRecord the rest of the package works with.

package exfat

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const directoryEntrySize = 32

// EntryType decomposes a raw directory record's type byte.
type EntryType uint8

// IsEndOfDirectory indicates that this is the last entry in the directory.
func (et EntryType) IsEndOfDirectory() bool {
	return et == 0
}

// IsUnusedEntryMarker indicates a placeholder record.
func (et EntryType) IsUnusedEntryMarker() bool {
	return et >= 0x01 && et <= 0x7f
}

// IsRegular indicates a normal, in-use directory entry.
func (et EntryType) IsRegular() bool {
	return et >= 0x81 && et <= 0xff
}

// TypeCode is the entry's general type, unique only together with
// TypeImportance and TypeCategory.
func (et EntryType) TypeCode() int {
	return int(et & 31)
}

// TypeImportance is the raw "importance" bit (set means benign).
func (et EntryType) TypeImportance() bool {
	return et&32 > 0
}

// IsCritical reports whether the importance bit is clear. This package
// skips unrecognized entries whether they are critical or benign.
func (et EntryType) IsCritical() bool {
	return et.TypeImportance() == false
}

// IsBenign is the complement of IsCritical.
func (et EntryType) IsBenign() bool {
	return et.TypeImportance() == true
}

// TypeCategory is the raw "category" bit (set means secondary).
func (et EntryType) TypeCategory() bool {
	return et&64 > 0
}

// IsPrimary reports whether this entry begins a new entry set.
func (et EntryType) IsPrimary() bool {
	return et.TypeCategory() == false
}

// IsSecondary reports whether this entry extends the preceding primary.
func (et EntryType) IsSecondary() bool {
	return et.TypeCategory() == true
}

// IsInUse reports whether the entry is live rather than a deleted tombstone.
func (et EntryType) IsInUse() bool {
	return et&128 > 0
}

// String returns a descriptive string.
func (et EntryType) String() string {
	return fmt.Sprintf("EntryType<TYPE-CODE=(%d) IS-CRITICAL=[%v] IS-PRIMARY=[%v] IS-IN-USE=[%v]>",
		et.TypeCode(), et.IsCritical(), et.IsPrimary(), et.IsInUse())
}

// directoryEntryParserKey identifies a struct layout by the three bits that
// the exFAT specification says jointly determine it.
type directoryEntryParserKey struct {
	typeCode   int
	isCritical bool
	isPrimary  bool
}

func (k directoryEntryParserKey) String() string {
	return fmt.Sprintf("directoryEntryParserKey<TYPE-CODE=(%d) IS-CRITICAL=[%v] IS-PRIMARY=[%v]>", k.typeCode, k.isCritical, k.isPrimary)
}

var directoryEntryParsers = map[directoryEntryParserKey]reflect.Type{
	// Critical primary
	{typeCode: 1, isCritical: true, isPrimary: true}: reflect.TypeOf(AllocationBitmapDirectoryEntry{}),
	{typeCode: 2, isCritical: true, isPrimary: true}: reflect.TypeOf(UpcaseTableDirectoryEntry{}),
	{typeCode: 3, isCritical: true, isPrimary: true}: reflect.TypeOf(VolumeLabelDirectoryEntry{}),
	{typeCode: 5, isCritical: true, isPrimary: true}: reflect.TypeOf(FileDirectoryEntry{}),

	// Benign primary
	{typeCode: 0, isCritical: false, isPrimary: true}: reflect.TypeOf(VolumeGuidDirectoryEntry{}),
	{typeCode: 1, isCritical: false, isPrimary: true}: reflect.TypeOf(TexFATDirectoryEntry{}),

	// Critical secondary
	{typeCode: 0, isCritical: true, isPrimary: false}: reflect.TypeOf(StreamExtensionEntry{}),
	{typeCode: 1, isCritical: true, isPrimary: false}: reflect.TypeOf(FileNameEntry{}),

	// Benign secondary
	{typeCode: 0, isCritical: false, isPrimary: false}: reflect.TypeOf(VendorExtensionDirectoryEntry{}),
	{typeCode: 1, isCritical: false, isPrimary: false}: reflect.TypeOf(VendorAllocationDirectoryEntry{}),
}

// DirectoryEntry is satisfied by every decoded record type.
type DirectoryEntry interface {
	TypeName() string
}

// PrimaryDirectoryEntry is implemented by record types that open an entry
// set and therefore know how many secondaries follow.
type PrimaryDirectoryEntry interface {
	SecondaryCount() uint8
}

// dirEntTimestamp is a packed exFAT timestamp with its decoding built in.
type dirEntTimestamp uint32

func (t dirEntTimestamp) Second() int { return int(t&31) * 2 }
func (t dirEntTimestamp) Minute() int { return int(t&2016) >> 5 }
func (t dirEntTimestamp) Hour() int   { return int(t&63488) >> 11 }
func (t dirEntTimestamp) Day() int    { return int(t&2031616) >> 16 }
func (t dirEntTimestamp) Month() int  { return int(t&31457280) >> 21 }
func (t dirEntTimestamp) Year() int   { return 1980 + int(t&4261412864)>>25 }

// WithOffset returns a location-corrected time.Time. offset is in 15-minute
// increments from UTC, per the exFAT timestamp/UTC-offset pairing.
func (t dirEntTimestamp) WithOffset(offset int) time.Time {
	location := time.FixedZone(fmt.Sprintf("(off=%d)", offset), offset*15*60)
	return time.Date(t.Year(), time.Month(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, location)
}

// FileAttributes decomposes the attributes bitfield on a file/directory.
type FileAttributes uint16

func (fa FileAttributes) IsReadOnly() bool  { return fa&0x01 > 0 }
func (fa FileAttributes) IsHidden() bool    { return fa&0x02 > 0 }
func (fa FileAttributes) IsSystem() bool    { return fa&0x04 > 0 }
func (fa FileAttributes) IsDirectory() bool { return fa&0x10 > 0 }
func (fa FileAttributes) IsArchive() bool   { return fa&0x20 > 0 }

func (fa FileAttributes) String() string {
	return fmt.Sprintf("FileAttributes<IS-READONLY=[%v] IS-HIDDEN=[%v] IS-SYSTEM=[%v] IS-DIRECTORY=[%v] IS-ARCHIVE=[%v]>",
		fa.IsReadOnly(), fa.IsHidden(), fa.IsSystem(), fa.IsDirectory(), fa.IsArchive())
}

// FileDirectoryEntry is the primary record (type code 5) of a File entry
// set: attributes and timestamps. It never carries the name or the data
// location directly — those live in the secondaries that follow it.
type FileDirectoryEntry struct {
	EntryType                 EntryType
	SecondaryCountRaw         uint8
	SetChecksum               uint16
	FileAttributes            FileAttributes
	Reserved1                 uint16
	CreateTimestampRaw        dirEntTimestamp
	LastModifiedTimestampRaw  dirEntTimestamp
	LastAccessedTimestampRaw  dirEntTimestamp
	Create10msIncrement       uint8
	LastModified10msIncrement uint8
	CreateUtcOffset           uint8
	LastModifiedUtcOffset     uint8
	LastAccessedUtcOffset     uint8
	Reserved2                 [7]byte
}

func (fde FileDirectoryEntry) SecondaryCount() uint8 { return fde.SecondaryCountRaw }
func (fde FileDirectoryEntry) TypeName() string      { return "File" }

func (fde FileDirectoryEntry) CreateTimestamp() time.Time {
	return fde.CreateTimestampRaw.WithOffset(int(fde.CreateUtcOffset))
}

func (fde FileDirectoryEntry) LastModifiedTimestamp() time.Time {
	return fde.LastModifiedTimestampRaw.WithOffset(int(fde.LastModifiedUtcOffset))
}

func (fde FileDirectoryEntry) LastAccessedTimestamp() time.Time {
	return fde.LastAccessedTimestampRaw.WithOffset(int(fde.LastAccessedUtcOffset))
}

func (fde FileDirectoryEntry) String() string {
	return fmt.Sprintf("FileDirectoryEntry<SECONDARY-COUNT=(%d) ATTRIBUTES=%s CTIME=[%s]>",
		fde.SecondaryCountRaw, fde.FileAttributes, fde.CreateTimestamp())
}

// AllocationBitmapDirectoryEntry locates the allocation bitmap. Decoded for
// introspection; never consulted to authorize chain walking (the FAT alone
// is authoritative here).
type AllocationBitmapDirectoryEntry struct {
	EntryType    EntryType
	BitmapFlags  uint8
	Reserved     [18]byte
	FirstCluster uint32
	DataLength   uint64
}

func (AllocationBitmapDirectoryEntry) TypeName() string { return "AllocationBitmap" }

func (abde AllocationBitmapDirectoryEntry) String() string {
	return fmt.Sprintf("AllocationBitmapDirectoryEntry<FIRST-CLUSTER=(%d) DATA-LENGTH=(%d)>", abde.FirstCluster, abde.DataLength)
}

// UpcaseTableDirectoryEntry locates the case-folding table. Decoded but not
// consulted: path matching in this package uses ASCII folding only.
type UpcaseTableDirectoryEntry struct {
	EntryType     EntryType
	Reserved1     [3]byte
	TableChecksum uint32
	Reserved2     [12]byte
	FirstCluster  uint32
	DataLength    uint64
}

func (UpcaseTableDirectoryEntry) TypeName() string { return "UpcaseTable" }

func (utde UpcaseTableDirectoryEntry) String() string {
	return fmt.Sprintf("UpcaseTableDirectoryEntry<TABLE-CHECKSUM=(0x%08x) FIRST-CLUSTER=(%d)>", utde.TableChecksum, utde.FirstCluster)
}

// VolumeLabelDirectoryEntry carries the volume's display name.
type VolumeLabelDirectoryEntry struct {
	EntryType      EntryType
	CharacterCount uint8
	VolumeLabel    [30]byte
}

// Label decodes the volume label as UTF-16LE.
func (vlde VolumeLabelDirectoryEntry) Label() string {
	return decodeUtf16le(vlde.VolumeLabel[:], int(vlde.CharacterCount))
}

func (VolumeLabelDirectoryEntry) TypeName() string { return "VolumeLabel" }

func (vlde VolumeLabelDirectoryEntry) String() string {
	return fmt.Sprintf("VolumeLabelDirectoryEntry<LABEL=[%s]>", vlde.Label())
}

// VolumeGuidDirectoryEntry is a benign primary occasionally left by vendor
// formatting tools. It never participates in FileRecord assembly.
type VolumeGuidDirectoryEntry struct {
	EntryType           EntryType
	SecondaryCountRaw   uint8
	SetChecksum         uint16
	GeneralPrimaryFlags uint16
	VolumeGuid          [16]byte
	Reserved            [10]byte
}

func (vgde VolumeGuidDirectoryEntry) SecondaryCount() uint8 { return vgde.SecondaryCountRaw }
func (VolumeGuidDirectoryEntry) TypeName() string           { return "VolumeGuid" }

func (vgde VolumeGuidDirectoryEntry) String() string {
	return fmt.Sprintf("VolumeGuidDirectoryEntry<GUID=[0x%x...]>", vgde.VolumeGuid[:4])
}

// TexFATDirectoryEntry is padding reserved by mobile-device TexFAT
// extensions; exFAT itself does not define its contents.
type TexFATDirectoryEntry struct {
	Reserved [32]byte
}

func (TexFATDirectoryEntry) TypeName() string { return "TexFAT" }
func (TexFATDirectoryEntry) String() string   { return "TexFATDirectoryEntry<>" }

// GeneralSecondaryFlags decomposes the flags byte common to secondary
// records.
type GeneralSecondaryFlags uint8

func (gsf GeneralSecondaryFlags) IsAllocationPossible() bool { return gsf&1 > 0 }

// NoFatChain reports whether the data is contiguous on disk rather than
// requiring FAT traversal. Not honored by read_file in this package; see
// DESIGN.md.
func (gsf GeneralSecondaryFlags) NoFatChain() bool { return gsf&2 > 0 }

func (gsf GeneralSecondaryFlags) String() string {
	return fmt.Sprintf("GeneralSecondaryFlags<ALLOCATION-POSSIBLE=[%v] NO-FAT-CHAIN=[%v]>", gsf.IsAllocationPossible(), gsf.NoFatChain())
}

// StreamExtensionEntry is the secondary (type code 0, critical) that
// locates a File entry set's data.
type StreamExtensionEntry struct {
	EntryType             EntryType
	GeneralSecondaryFlags GeneralSecondaryFlags
	Reserved1             [1]byte
	NameLength            uint8
	NameHash              uint16
	Reserved2             [2]byte
	ValidDataLength       uint64
	Reserved3             [4]byte
	FirstCluster          uint32
	DataLength            uint64
}

func (StreamExtensionEntry) TypeName() string { return "StreamExtension" }

func (sede StreamExtensionEntry) String() string {
	return fmt.Sprintf("StreamExtensionEntry<NAME-LENGTH=(%d) FIRST-CLUSTER=(%d) DATA-LENGTH=(%d)>",
		sede.NameLength, sede.FirstCluster, sede.DataLength)
}

// FileNameEntry is one 15-code-unit fragment of a file's name.
type FileNameEntry struct {
	EntryType             EntryType
	GeneralSecondaryFlags GeneralSecondaryFlags
	FileName              [30]byte
}

func (FileNameEntry) TypeName() string { return "FileName" }

func (fnde FileNameEntry) String() string {
	return fmt.Sprintf("FileNameEntry<FRAGMENT=%v>", fnde.FileName[:])
}

// VendorExtensionDirectoryEntry is a benign secondary carrying vendor-
// defined data; it never contributes to FileRecord assembly.
type VendorExtensionDirectoryEntry struct {
	EntryType             EntryType
	GeneralSecondaryFlags GeneralSecondaryFlags
	VendorGuid            [16]byte
	VendorDefined         [14]byte
}

func (VendorExtensionDirectoryEntry) TypeName() string { return "VendorExtension" }

func (vede VendorExtensionDirectoryEntry) String() string {
	return fmt.Sprintf("VendorExtensionDirectoryEntry<GUID=(0x%x)>", vede.VendorGuid)
}

// VendorAllocationDirectoryEntry is a benign secondary pointing at a
// cluster of vendor-defined data.
type VendorAllocationDirectoryEntry struct {
	EntryType             EntryType
	GeneralSecondaryFlags GeneralSecondaryFlags
	VendorGuid            [16]byte
	VendorDefined         [2]byte
	FirstCluster          uint32
	DataLength            uint64
}

func (VendorAllocationDirectoryEntry) TypeName() string { return "VendorAllocation" }

func (vade VendorAllocationDirectoryEntry) String() string {
	return fmt.Sprintf("VendorAllocationDirectoryEntry<GUID=(0x%x) FIRST-CLUSTER=(%d)>", vade.VendorGuid, vade.FirstCluster)
}

// parseDirectoryEntry decodes one 32-byte record according to its type.
// found is false when no struct layout is registered for entryType's
// (typeCode, isCritical, isPrimary) key — an unrecognized entry, which the
// assembly rule in filesystem.go skips rather than treats as fatal.
func parseDirectoryEntry(entryType EntryType, raw []byte) (parsed DirectoryEntry, found bool, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	key := directoryEntryParserKey{
		typeCode:   entryType.TypeCode(),
		isCritical: entryType.IsCritical(),
		isPrimary:  entryType.IsPrimary(),
	}

	structType, ok := directoryEntryParsers[key]
	if !ok {
		return nil, false, nil
	}

	s := reflect.New(structType)
	x := s.Interface()

	err = restruct.Unpack(raw, binary.LittleEndian, x)
	log.PanicIf(err)

	return x.(DirectoryEntry), true, nil
}

// FileRecord is the assembled view of a File entry set: the primary's
// attributes/timestamps joined with the stream extension's data location
// and the concatenated name fragments.
type FileRecord struct {
	Name         string
	Attributes   FileAttributes
	FirstCluster uint32
	Size         uint64

	CreateTimestamp       time.Time
	LastModifiedTimestamp time.Time
	LastAccessedTimestamp time.Time
}

// IsDir reports whether this record describes a directory.
func (fr FileRecord) IsDir() bool {
	return fr.Attributes.IsDirectory()
}

func (fr FileRecord) String() string {
	return fmt.Sprintf("FileRecord<NAME=[%s] FIRST-CLUSTER=(%d) SIZE=(%d) IS-DIR=[%v]>", fr.Name, fr.FirstCluster, fr.Size, fr.IsDir())
}

// assembleFileRecord groups a primary File record with the secondaries
// that follow it into a FileRecord. It returns ok == false if either the
// stream extension or every name fragment is missing, per the discard rule
// for malformed entry sets.
func assembleFileRecord(primary FileDirectoryEntry, secondaries []DirectoryEntry) (FileRecord, bool) {
	var stream *StreamExtensionEntry
	var nameParts []string

	for _, entry := range secondaries {
		switch e := entry.(type) {
		case *StreamExtensionEntry:
			if stream == nil {
				stream = e
			}
		case *FileNameEntry:
			nameParts = append(nameParts, decodeUtf16le(e.FileName[:], 15))
		}
	}

	if stream == nil || len(nameParts) == 0 {
		return FileRecord{}, false
	}

	return FileRecord{
		Name:                  strings.Join(nameParts, ""),
		Attributes:            primary.FileAttributes,
		FirstCluster:          stream.FirstCluster,
		Size:                  stream.DataLength,
		CreateTimestamp:       primary.CreateTimestamp(),
		LastModifiedTimestamp: primary.LastModifiedTimestamp(),
		LastAccessedTimestamp: primary.LastAccessedTimestamp(),
	}, true
}

// decodeUtf16le decodes up to unitCount little-endian UTF-16 code units,
// truncating at the first NUL and replacing unpaired surrogates with the
// Unicode replacement character.
func decodeUtf16le(raw []byte, unitCount int) string {
	maxUnits := len(raw) / 2
	if unitCount > maxUnits {
		unitCount = maxUnits
	}

	units := make([]uint16, 0, unitCount)
	for i := 0; i < unitCount; i++ {
		unit := uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
		if unit == 0 {
			break
		}
		units = append(units, unit)
	}

	return string(utf16.Decode(units))
}
