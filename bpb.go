// This file manages the boot-parameter-block: parsing and validating the
// 512-byte main boot sector and exposing the derived cluster geometry.

package exfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	bootSectorHeaderSize = 512

	minBytesPerSectorShift   = 9
	maxBytesPerSectorShift   = 12
	maxSectorsPerClusterShift = 25

	minBytesPerCluster = 4 * 1024
	maxBytesPerCluster = 32 * 1024 * 1024

	requiredFileSystemRevision = 0x0100
	requiredNumberOfFats       = 1
)

var (
	requiredBootSignature  = uint16(0xaa55)
	requiredFileSystemName = []byte("EXFAT   ")
)

// VolumeFlags decomposes the BPB's VolumeFlags bitfield.
type VolumeFlags uint16

const (
	volumeFlagActiveFat    VolumeFlags = 1
	volumeFlagVolumeDirty  VolumeFlags = 2
	volumeFlagMediaFailure VolumeFlags = 4
	volumeFlagClearToZero  VolumeFlags = 8
)

// UseSecondFat reports whether the second FAT/bitmap pair is the active one.
// This volume is validated to carry exactly one FAT (NumberOfFats == 1), so
// this is decoded for forensic completeness but never changes which FAT is
// read.
func (vf VolumeFlags) UseSecondFat() bool { return vf&volumeFlagActiveFat != 0 }

// IsDirty reports whether the volume was mounted without a clean unmount.
func (vf VolumeFlags) IsDirty() bool { return vf&volumeFlagVolumeDirty != 0 }

// HasHadMediaFailures reports whether bad-cluster tracking has recorded a
// media failure.
func (vf VolumeFlags) HasHadMediaFailures() bool { return vf&volumeFlagMediaFailure != 0 }

// BootSector is the decoded 512-byte main boot sector (BPB). Field layout
// follows the published exFAT specification's byte offsets exactly; restruct
// decodes fields in declaration order, so the field order and sizes encode
// that layout and Unpack can decode directly off the wire.
type BootSector struct {
	JumpBoot       [3]byte
	FileSystemName [8]byte
	MustBeZero     [53]byte

	PartitionOffset   uint64
	VolumeLength      uint64
	FatOffset         uint32
	FatLength         uint32
	ClusterHeapOffset uint32
	ClusterCount      uint32

	RootDirFirstCluster uint32
	VolumeSerialNumber  uint32
	FileSystemRevision  uint16
	VolumeFlags         VolumeFlags

	BytesPerSectorShift    uint8
	SectorsPerClusterShift uint8
	NumberOfFats           uint8
	DriveSelect            uint8
	PercentInUse           uint8

	Reserved [7]byte
	BootCode [390]byte

	BootSignature uint16
}

// ParseBootSector decodes and validates a 512-byte main boot sector. It is a
// pure function: it performs no I/O and never mutates raw.
func ParseBootSector(raw []byte) (bs *BootSector, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(raw) < bootSectorHeaderSize {
		panic(parseError("boot sector too short: (%d) bytes", len(raw)))
	}

	sigOffset := 510
	bootSignature := binary.LittleEndian.Uint16(raw[sigOffset : sigOffset+2])
	if bootSignature != requiredBootSignature {
		panic(parseError("boot signature not correct: (0x%04x)", bootSignature))
	}

	bs = new(BootSector)

	unpackErr := restruct.Unpack(raw[:bootSectorHeaderSize], binary.LittleEndian, bs)
	if unpackErr != nil {
		panic(parseError("could not unpack boot sector: %s", unpackErr.Error()))
	}

	if bytes.Equal(bs.FileSystemName[:], requiredFileSystemName) != true {
		panic(parseError("OEM name isn't EXFAT: [%s]", string(bs.FileSystemName[:])))
	}

	if bs.FileSystemRevision != requiredFileSystemRevision {
		panic(parseError("unsupported filesystem revision: (0x%04x)", bs.FileSystemRevision))
	}

	if bs.NumberOfFats != requiredNumberOfFats {
		panic(parseError("unsupported number of FATs: (%d)", bs.NumberOfFats))
	}

	if bs.VolumeLength == 0 {
		panic(parseError("volume-length must not be zero"))
	}

	if bs.FatOffset == 0 {
		panic(parseError("fat-offset must not be zero"))
	}

	if bs.FatLength == 0 {
		panic(parseError("fat-length must not be zero"))
	}

	if bs.ClusterHeapOffset == 0 {
		panic(parseError("cluster-heap-offset must not be zero"))
	}

	if bs.ClusterCount < 2 {
		panic(parseError("cluster-count too small: (%d)", bs.ClusterCount))
	}

	if bs.RootDirFirstCluster < 2 {
		panic(parseError("root-dir-first-cluster too small: (%d)", bs.RootDirFirstCluster))
	}

	if bs.BytesPerSectorShift < minBytesPerSectorShift || bs.BytesPerSectorShift > maxBytesPerSectorShift {
		panic(parseError("bytes-per-sector-shift out of range: (%d)", bs.BytesPerSectorShift))
	}

	if bs.SectorsPerClusterShift > maxSectorsPerClusterShift {
		panic(parseError("sectors-per-cluster-shift out of range: (%d)", bs.SectorsPerClusterShift))
	}

	bytesPerCluster := bs.BytesPerCluster()
	if bytesPerCluster < minBytesPerCluster || bytesPerCluster > maxBytesPerCluster {
		panic(parseError("bytes-per-cluster out of range: (%d)", bytesPerCluster))
	}

	if uint64(bs.FatOffset)+uint64(bs.FatLength) > uint64(bs.ClusterHeapOffset) {
		panic(parseError("fat region overruns cluster heap: fat-offset=(%d) fat-length=(%d) cluster-heap-offset=(%d)", bs.FatOffset, bs.FatLength, bs.ClusterHeapOffset))
	}

	if uint64(bs.RootDirFirstCluster) > uint64(bs.ClusterCount)+1 {
		panic(parseError("root-dir-first-cluster beyond cluster heap: (%d) > (%d)", bs.RootDirFirstCluster, bs.ClusterCount+1))
	}

	return bs, nil
}

// BytesPerSector returns the effective sector size, 1<<BytesPerSectorShift.
func (bs *BootSector) BytesPerSector() uint32 {
	return 1 << bs.BytesPerSectorShift
}

// SectorsPerCluster returns the effective cluster size in sectors,
// 1<<SectorsPerClusterShift.
func (bs *BootSector) SectorsPerCluster() uint32 {
	return 1 << bs.SectorsPerClusterShift
}

// BytesPerCluster returns the effective cluster size in bytes.
func (bs *BootSector) BytesPerCluster() uint32 {
	return bs.BytesPerSector() * bs.SectorsPerCluster()
}

// FatStartByte returns the absolute byte offset of the first FAT.
func (bs *BootSector) FatStartByte() uint64 {
	return uint64(bs.FatOffset) * uint64(bs.BytesPerSector())
}

// ClusterToByteOffset maps a cluster number (>= 2) to its absolute byte
// offset in the volume.
func (bs *BootSector) ClusterToByteOffset(cluster uint32) uint64 {
	sector := uint64(bs.ClusterHeapOffset) + uint64(cluster-2)*uint64(bs.SectorsPerCluster())
	return sector * uint64(bs.BytesPerSector())
}

// String returns a short descriptive tag, matching the teacher's
// single-line String() convention for structured types.
func (bs *BootSector) String() string {
	return "BootSector<SN=(0x" + hex32(bs.VolumeSerialNumber) + ")>"
}

// Dump prints the boot sector's fields to STDOUT, matching the teacher's
// Dump() convention for structured types.
func (bs *BootSector) Dump() {
	fmt.Printf("Boot Sector\n")
	fmt.Printf("===========\n")
	fmt.Printf("\n")

	fmt.Printf("VolumeSerialNumber: (0x%s)\n", hex32(bs.VolumeSerialNumber))
	fmt.Printf("FileSystemRevision: (0x%04x)\n", bs.FileSystemRevision)
	fmt.Printf("VolumeFlags: (0x%04x)\n", bs.VolumeFlags)
	fmt.Printf("\n")

	fmt.Printf("PartitionOffset: (%d)\n", bs.PartitionOffset)
	fmt.Printf("VolumeLength: (%d)\n", bs.VolumeLength)
	fmt.Printf("FatOffset: (%d)\n", bs.FatOffset)
	fmt.Printf("FatLength: (%d)\n", bs.FatLength)
	fmt.Printf("ClusterHeapOffset: (%d)\n", bs.ClusterHeapOffset)
	fmt.Printf("ClusterCount: (%d)\n", bs.ClusterCount)
	fmt.Printf("RootDirFirstCluster: (%d)\n", bs.RootDirFirstCluster)
	fmt.Printf("\n")

	fmt.Printf("BytesPerSector: (%d)\n", bs.BytesPerSector())
	fmt.Printf("SectorsPerCluster: (%d)\n", bs.SectorsPerCluster())
	fmt.Printf("BytesPerCluster: (%d)\n", bs.BytesPerCluster())
	fmt.Printf("NumberOfFats: (%d)\n", bs.NumberOfFats)
	fmt.Printf("\n")
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}
