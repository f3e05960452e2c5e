// This file reads individual FAT entries and follows cluster chains,
// bounding and detecting cycles so that a malformed volume can never wedge
// a caller in an unbounded or repeating walk.

package exfat

import (
	"encoding/binary"

	"github.com/dsoprea/go-logging"
)

const (
	fatEntrySize = 4

	// minValidCluster is the first allocatable cluster number; 0 and 1 are
	// reserved.
	minValidCluster = 2

	// maxValidCluster is the last cluster number walk_chain will follow
	// before treating the entry as a reserved/EOC-range value rather than a
	// forward pointer.
	maxValidCluster = 0xFFFFFFF0

	// eocThreshold is the lowest value treated as end-of-chain.
	eocThreshold = 0xFFFFFFF8
)

// isEndOfChain reports whether a raw FAT entry marks the end of a chain.
func isEndOfChain(entry uint32) bool {
	return entry >= eocThreshold
}

// FatTable reads entries from a volume's single FAT and walks chains of
// cluster pointers.
type FatTable struct {
	src          ByteSource
	fatStartByte uint64
	clusterCount uint32
	warn         WarnFunc
}

// NewFatTable builds a FatTable positioned over the FAT region described by
// bs, reading through src. A nil warn disables diagnostics.
func NewFatTable(src ByteSource, bs *BootSector, warn WarnFunc) *FatTable {
	if warn == nil {
		warn = func(Warning) {}
	}

	return &FatTable{
		src:          src,
		fatStartByte: bs.FatStartByte(),
		clusterCount: bs.ClusterCount,
		warn:         warn,
	}
}

// ReadEntry reads the raw 32-bit FAT entry for cluster. It does not
// interpret the value beyond decoding it as little-endian.
func (ft *FatTable) ReadEntry(cluster uint32) (entry uint32, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	offset := int64(ft.fatStartByte) + int64(cluster)*fatEntrySize

	var buf [fatEntrySize]byte
	n, readErr := ft.src.ReadAt(buf[:], offset)
	if readErr != nil {
		panic(ioError(readErr, "short read of FAT entry for cluster (%d)", cluster))
	}
	if n != fatEntrySize {
		panic(ioError(nil, "short read of FAT entry for cluster (%d): got (%d) bytes", cluster, n))
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WalkChain follows the FAT chain starting at firstCluster, returning the
// ordered, non-repeating sequence of clusters visited. It stops — without
// erroring — at end-of-chain, a free-cluster pointer, a self-loop, a
// revisited cluster, or after maxSteps clusters, emitting a Warning for
// every case but the clean end-of-chain.
func (ft *FatTable) WalkChain(firstCluster uint32, maxSteps int) (out []uint32, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	if firstCluster < minValidCluster {
		return out, nil
	}

	seen := make(map[uint32]struct{})
	cur := firstCluster
	steps := 0

	for cur >= minValidCluster && cur < maxValidCluster && steps < maxSteps {
		if _, revisited := seen[cur]; revisited {
			ft.warn(Warning{Kind: WarningCycle, Cluster: cur})
			break
		}
		seen[cur] = struct{}{}
		out = append(out, cur)

		next, entryErr := ft.ReadEntry(cur)
		log.PanicIf(entryErr)

		if isEndOfChain(next) {
			break
		}
		if next == 0 {
			ft.warn(Warning{Kind: WarningFreeCluster, Cluster: cur})
			break
		}
		if next == cur {
			ft.warn(Warning{Kind: WarningSelfLoop, Cluster: cur})
			break
		}

		cur = next
		steps++
	}

	if steps >= maxSteps {
		ft.warn(Warning{Kind: WarningMaxStepsReached, Cluster: cur})
	}

	return out, nil
}
