// This file builds synthetic in-memory exFAT volumes for the package's
// tests. Rather than depending on on-disk fixture images under a GOPATH
// asset directory, every test assembles exactly the bytes it needs: a boot
// sector, FAT entries, and directory-entry-set records, writing them into a
// single backing buffer that satisfies ByteSource via bytes.Reader.

package exfat

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// bootSectorParams is the subset of boot-sector fields tests typically
// need to vary; everything else defaults to a value ParseBootSector
// accepts.
type bootSectorParams struct {
	BytesPerSectorShift    uint8
	SectorsPerClusterShift uint8
	PartitionOffset        uint64
	VolumeLength           uint64
	FatOffset              uint32
	FatLength              uint32
	ClusterHeapOffset      uint32
	ClusterCount           uint32
	RootDirFirstCluster    uint32
	VolumeSerialNumber     uint32
	VolumeFlags            uint16
	FileSystemName         string
	FileSystemRevision     uint16
	NumberOfFats           uint8
}

// defaultBootSectorParams returns the geometry used across most tests:
// 512-byte sectors, 8 sectors (4096 bytes) per cluster, an 8-sector FAT
// starting at sector 8, a 64-cluster heap starting at sector 16, and the
// root directory at cluster 4.
func defaultBootSectorParams() bootSectorParams {
	return bootSectorParams{
		BytesPerSectorShift:    9,
		SectorsPerClusterShift: 3,
		PartitionOffset:        0,
		VolumeLength:           16 + 64*8,
		FatOffset:              8,
		FatLength:              8,
		ClusterHeapOffset:      16,
		ClusterCount:           64,
		RootDirFirstCluster:    4,
		VolumeSerialNumber:     0x12345678,
		VolumeFlags:            0,
		FileSystemName:         "EXFAT   ",
		FileSystemRevision:     requiredFileSystemRevision,
		NumberOfFats:           1,
	}
}

// buildBootSector encodes a 512-byte main boot sector matching the
// BootSector struct's field layout byte for byte.
func buildBootSector(p bootSectorParams) []byte {
	buf := make([]byte, bootSectorHeaderSize)

	buf[0], buf[1], buf[2] = 0xeb, 0x76, 0x90
	copy(buf[3:11], []byte(p.FileSystemName))

	binary.LittleEndian.PutUint64(buf[64:72], p.PartitionOffset)
	binary.LittleEndian.PutUint64(buf[72:80], p.VolumeLength)
	binary.LittleEndian.PutUint32(buf[80:84], p.FatOffset)
	binary.LittleEndian.PutUint32(buf[84:88], p.FatLength)
	binary.LittleEndian.PutUint32(buf[88:92], p.ClusterHeapOffset)
	binary.LittleEndian.PutUint32(buf[92:96], p.ClusterCount)
	binary.LittleEndian.PutUint32(buf[96:100], p.RootDirFirstCluster)
	binary.LittleEndian.PutUint32(buf[100:104], p.VolumeSerialNumber)
	binary.LittleEndian.PutUint16(buf[104:106], p.FileSystemRevision)
	binary.LittleEndian.PutUint16(buf[106:108], p.VolumeFlags)

	buf[108] = p.BytesPerSectorShift
	buf[109] = p.SectorsPerClusterShift
	buf[110] = p.NumberOfFats

	binary.LittleEndian.PutUint16(buf[510:512], requiredBootSignature)

	return buf
}

// syntheticVolume is a whole in-memory volume image: boot sector, FAT, and
// cluster heap, addressable the same way a real device image is.
type syntheticVolume struct {
	buf               []byte
	bytesPerSector    uint32
	sectorsPerCluster uint32
	bytesPerCluster   uint32
	clusterHeapOffset uint32
	fatStartByte      uint64
}

// newSyntheticVolume allocates a zeroed buffer sized to cover p's FAT and
// cluster-heap regions and writes the encoded boot sector at offset 0.
// Every cluster starts out zeroed, which is itself a valid directory
// end-of-directory marker (entry type 0) at the start of any cluster a
// test doesn't populate.
func newSyntheticVolume(p bootSectorParams) *syntheticVolume {
	bytesPerSector := uint32(1) << p.BytesPerSectorShift
	sectorsPerCluster := uint32(1) << p.SectorsPerClusterShift
	bytesPerCluster := bytesPerSector * sectorsPerCluster

	totalSize := uint64(p.ClusterHeapOffset)*uint64(bytesPerSector) + uint64(p.ClusterCount)*uint64(bytesPerCluster)

	v := &syntheticVolume{
		buf:               make([]byte, totalSize),
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		bytesPerCluster:   bytesPerCluster,
		clusterHeapOffset: p.ClusterHeapOffset,
		fatStartByte:      uint64(p.FatOffset) * uint64(bytesPerSector),
	}

	copy(v.buf[:bootSectorHeaderSize], buildBootSector(p))

	return v
}

// setFatEntry writes a raw 32-bit FAT entry for cluster.
func (v *syntheticVolume) setFatEntry(cluster uint32, value uint32) {
	offset := v.fatStartByte + uint64(cluster)*fatEntrySize
	binary.LittleEndian.PutUint32(v.buf[offset:offset+fatEntrySize], value)
}

// clusterOffset mirrors BootSector.ClusterToByteOffset for test setup.
func (v *syntheticVolume) clusterOffset(cluster uint32) uint64 {
	sector := uint64(v.clusterHeapOffset) + uint64(cluster-2)*uint64(v.sectorsPerCluster)
	return sector * uint64(v.bytesPerSector)
}

// writeCluster copies data into cluster's region, truncated to the
// cluster's size if data is longer.
func (v *syntheticVolume) writeCluster(cluster uint32, data []byte) {
	offset := v.clusterOffset(cluster)
	n := len(data)
	if uint32(n) > v.bytesPerCluster {
		n = int(v.bytesPerCluster)
	}
	copy(v.buf[offset:offset+uint64(n)], data[:n])
}

// writeDirEntries concatenates entries (each a 32-byte record) and writes
// them sequentially starting at cluster.
func (v *syntheticVolume) writeDirEntries(cluster uint32, entries [][]byte) {
	var flat []byte
	for _, e := range entries {
		flat = append(flat, e...)
	}
	v.writeCluster(cluster, flat)
}

// reader returns a ByteSource over the whole image.
func (v *syntheticVolume) reader() ByteSource {
	return bytes.NewReader(v.buf)
}

// --- directory-entry-set byte builders ---
//
// Each builder produces exactly one 32-byte raw record, laid out to match
// the corresponding struct in direntry.go field for field. Entry-type
// bytes are the bit composition IS-IN-USE|IS-SECONDARY|IS-BENIGN|TYPE-CODE
// documented on EntryType.

func fileDirectoryEntryBytes(secondaryCount uint8, attrs FileAttributes) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0x85 // in-use, primary, critical, type-code 5
	buf[1] = secondaryCount
	binary.LittleEndian.PutUint16(buf[4:6], uint16(attrs))
	return buf
}

func streamExtensionEntryBytes(nameLength uint8, firstCluster uint32, dataLength uint64) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xC0 // in-use, secondary, critical, type-code 0
	buf[1] = 1    // GeneralSecondaryFlags: allocation-possible
	buf[3] = nameLength
	binary.LittleEndian.PutUint64(buf[8:16], dataLength) // ValidDataLength
	binary.LittleEndian.PutUint32(buf[20:24], firstCluster)
	binary.LittleEndian.PutUint64(buf[24:32], dataLength)
	return buf
}

func fileNameEntryBytes(fragment string) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xC1 // in-use, secondary, critical, type-code 1
	units := utf16.Encode([]rune(fragment))
	for i := 0; i < 15 && i < len(units); i++ {
		binary.LittleEndian.PutUint16(buf[2+i*2:4+i*2], units[i])
	}
	return buf
}

func allocationBitmapEntryBytes(firstCluster uint32, dataLength uint64) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0x81 // in-use, primary, critical, type-code 1
	binary.LittleEndian.PutUint32(buf[20:24], firstCluster)
	binary.LittleEndian.PutUint64(buf[24:32], dataLength)
	return buf
}

func upcaseTableEntryBytes(checksum uint32, firstCluster uint32, dataLength uint64) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0x82 // in-use, primary, critical, type-code 2
	binary.LittleEndian.PutUint32(buf[4:8], checksum)
	binary.LittleEndian.PutUint32(buf[20:24], firstCluster)
	binary.LittleEndian.PutUint64(buf[24:32], dataLength)
	return buf
}

func volumeLabelEntryBytes(label string) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0x83 // in-use, primary, critical, type-code 3
	units := utf16.Encode([]rune(label))
	buf[1] = uint8(len(units))
	for i := 0; i < 15 && i < len(units); i++ {
		binary.LittleEndian.PutUint16(buf[2+i*2:4+i*2], units[i])
	}
	return buf
}

func volumeGuidEntryBytes(guid [16]byte) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xA0 // in-use, primary, benign, type-code 0
	copy(buf[6:22], guid[:])
	return buf
}

func texFATEntryBytes() []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xA1 // in-use, primary, benign, type-code 1
	return buf
}

func vendorExtensionEntryBytes(guid [16]byte) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xE0 // in-use, secondary, benign, type-code 0
	copy(buf[2:18], guid[:])
	return buf
}

func vendorAllocationEntryBytes(guid [16]byte, firstCluster uint32, dataLength uint64) []byte {
	buf := make([]byte, directoryEntrySize)
	buf[0] = 0xE1 // in-use, secondary, benign, type-code 1
	copy(buf[2:18], guid[:])
	binary.LittleEndian.PutUint32(buf[20:24], firstCluster)
	binary.LittleEndian.PutUint64(buf[24:32], dataLength)
	return buf
}

// endOfDirectoryMarker is an explicit end-of-directory record (type 0x00),
// useful when a test wants the marker visibly present rather than relying
// on a zeroed tail cluster.
func endOfDirectoryMarker() []byte {
	return make([]byte, directoryEntrySize)
}

// buildFileEntrySet assembles a complete File entry set — one primary plus
// a stream extension and as many name fragments as name requires — as a
// flat slice of 32-byte records ready to hand to writeDirEntries.
func buildFileEntrySet(name string, attrs FileAttributes, firstCluster uint32, size uint64) [][]byte {
	units := utf16.Encode([]rune(name))

	fragments := (len(units) + 14) / 15
	if fragments == 0 {
		fragments = 1
	}

	secondaryCount := uint8(1 + fragments)

	out := make([][]byte, 0, 1+fragments)
	out = append(out, fileDirectoryEntryBytes(secondaryCount, attrs))
	out = append(out, streamExtensionEntryBytes(uint8(len(units)), firstCluster, size))

	for i := 0; i < fragments; i++ {
		start := i * 15
		end := start + 15
		if end > len(units) {
			end = len(units)
		}
		out = append(out, fileNameEntryBytes(string(utf16.Decode(units[start:end]))))
	}

	return out
}
