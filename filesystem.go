// This file is the filesystem facade: it opens a volume, walks directory
// cluster chains into assembled FileRecords, resolves paths, reads file
// bodies, and lazily builds the synthetic-inode index that backs the
// ext-like façade in compat.go.

package exfat

import (
	"sort"
	"strings"

	"github.com/dsoprea/go-logging"
)

const maxDirectoryChainClusters = 1000000

// rawDirEnt is one still-undecoded 32-byte record drawn from a directory's
// cluster chain, tagged with its position in that chain (the primary-entry
// index synthetic inode numbers are derived from).
type rawDirEnt struct {
	index     int
	entryType EntryType
	data      []byte
}

// indexedRecord pairs an assembled FileRecord with the position of its
// primary entry within the parent directory's record sequence.
type indexedRecord struct {
	primaryIndex int
	record       FileRecord
}

type inodeEntry struct {
	parentFirstCluster uint32
	primaryIndex       int
	record             FileRecord
}

// Filesystem is an open handle onto an exFAT volume: the parsed BPB, a FAT
// reader over the same byte source, and (once built) the synthetic-inode
// index.
type Filesystem struct {
	src ByteSource
	bs  *BootSector
	fat *FatTable

	indexBuilt    bool
	inodeToRecord map[uint64]inodeEntry
}

// Open parses the boot sector at the start of src and returns a handle
// ready to serve directory and file operations. warn receives FAT-walk
// diagnostics; pass nil to discard them.
func Open(src ByteSource, warn WarnFunc) (fs *Filesystem, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	var header [bootSectorHeaderSize]byte

	n, readErr := src.ReadAt(header[:], 0)
	if readErr != nil {
		panic(ioError(readErr, "failed reading boot sector"))
	}
	if n != bootSectorHeaderSize {
		panic(ioError(nil, "short read of boot sector: got (%d) bytes", n))
	}

	bs, parseErr := ParseBootSector(header[:])
	log.PanicIf(parseErr)

	return &Filesystem{
		src: src,
		bs:  bs,
		fat: NewFatTable(src, bs, warn),
	}, nil
}

// BootSector returns the volume's parsed boot sector.
func (fs *Filesystem) BootSector() *BootSector {
	return fs.bs
}

// ReadCluster reads one cluster's worth of bytes.
func (fs *Filesystem) ReadCluster(cluster uint32) ([]byte, error) {
	return readCluster(fs.src, fs.bs, cluster)
}

// readDirEntriesFromChain walks first_cluster's FAT chain and slices every
// cluster it visits into 32-byte raw records, numbered by their position in
// the concatenated sequence.
func (fs *Filesystem) readDirEntriesFromChain(firstCluster uint32) (out []rawDirEnt, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	chain, walkErr := fs.fat.WalkChain(firstCluster, maxDirectoryChainClusters)
	log.PanicIf(walkErr)

	index := 0

	for _, cluster := range chain {
		data, clusterErr := fs.ReadCluster(cluster)
		log.PanicIf(clusterErr)

		for offset := 0; offset+directoryEntrySize <= len(data); offset += directoryEntrySize {
			record := data[offset : offset+directoryEntrySize]
			out = append(out, rawDirEnt{
				index:     index,
				entryType: EntryType(record[0]),
				data:      record,
			})
			index++
		}
	}

	return out, nil
}

// listIndexedRecords assembles every File entry set found in
// first_cluster's directory, stopping at the first End marker. Unknown and
// non-File primary types are skipped; malformed File sets (missing stream
// extension or name) are silently discarded per the codec's assembly rule.
func (fs *Filesystem) listIndexedRecords(firstCluster uint32) (out []indexedRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	entries, entriesErr := fs.readDirEntriesFromChain(firstCluster)
	log.PanicIf(entriesErr)

	i := 0
	for i < len(entries) {
		entryType := entries[i].entryType

		if entryType.IsEndOfDirectory() {
			break
		}

		if !entryType.IsPrimary() {
			i++
			continue
		}

		primaryDe, found, parseErr := parseDirectoryEntry(entryType, entries[i].data)
		log.PanicIf(parseErr)
		if !found {
			i++
			continue
		}

		fde, isFile := primaryDe.(*FileDirectoryEntry)
		if !isFile {
			i++
			continue
		}

		secondaryCount := int(fde.SecondaryCount())
		end := i + 1 + secondaryCount
		if end > len(entries) {
			end = len(entries)
		}

		secondaries := make([]DirectoryEntry, 0, end-(i+1))
		for _, raw := range entries[i+1 : end] {
			de, found, secondaryErr := parseDirectoryEntry(raw.entryType, raw.data)
			log.PanicIf(secondaryErr)
			if !found {
				continue
			}
			secondaries = append(secondaries, de)
		}

		if record, ok := assembleFileRecord(*fde, secondaries); ok {
			out = append(out, indexedRecord{primaryIndex: entries[i].index, record: record})
		}

		i = end
	}

	return out, nil
}

// ListDir returns every assembled FileRecord in first_cluster's directory,
// in on-disk order.
func (fs *Filesystem) ListDir(firstCluster uint32) (out []FileRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	indexed, indexedErr := fs.listIndexedRecords(firstCluster)
	log.PanicIf(indexedErr)

	out = make([]FileRecord, len(indexed))
	for i, ir := range indexed {
		out[i] = ir.record
	}

	return out, nil
}

// ListDirWithInodes is ListDir, but each record is paired with the
// synthetic inode number it would be assigned by ensure_index.
func (fs *Filesystem) ListDirWithInodes(firstCluster uint32) (out []ExInode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	indexed, indexedErr := fs.listIndexedRecords(firstCluster)
	log.PanicIf(indexedErr)

	out = make([]ExInode, len(indexed))
	for i, ir := range indexed {
		iNum := inodeNumber(firstCluster, ir.primaryIndex)
		out[i] = newExInode(iNum, ir.record)
	}

	return out, nil
}

// inodeNumber derives the synthetic, stable identifier for a primary entry
// at primaryIndex within the directory rooted at parentFirstCluster.
func inodeNumber(parentFirstCluster uint32, primaryIndex int) uint64 {
	return uint64(parentFirstCluster)<<32 | uint64(uint32(primaryIndex))
}

// ReadFile returns fr's full contents, read by walking its FAT chain and
// concatenating clusters, truncated to exactly fr.Size bytes.
func (fs *Filesystem) ReadFile(fr FileRecord) (out []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	maxSteps := int(fr.Size/uint64(fs.bs.BytesPerCluster())) + 4

	chain, walkErr := fs.fat.WalkChain(fr.FirstCluster, maxSteps)
	log.PanicIf(walkErr)

	full, readErr := readClusterChain(fs.src, fs.bs, chain)
	log.PanicIf(readErr)

	if uint64(len(full)) < fr.Size {
		panic(ioError(nil, "file chain exhausted before size (%d): got (%d) bytes", fr.Size, len(full)))
	}

	return full[:fr.Size], nil
}

// ReadPath splits path on '/', ignores empty components, and descends from
// the root directory matching names ASCII case-insensitively.
func (fs *Filesystem) ReadPath(path string) (out []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	fr, resolveErr := fs.resolvePath(path)
	log.PanicIf(resolveErr)

	if fr.IsDir() {
		panic(notAFileError("path is a directory: %s", path))
	}

	data, readErr := fs.ReadFile(fr)
	log.PanicIf(readErr)

	return data, nil
}

// resolvePath descends component by component from the root directory,
// returning the FileRecord the final component names.
func (fs *Filesystem) resolvePath(path string) (fr FileRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	parts := splitPathComponents(path)
	if len(parts) == 0 {
		panic(notAFileError("path is the root directory: %s", path))
	}

	curDir := fs.bs.RootDirFirstCluster

	for idx, comp := range parts {
		entries, listErr := fs.ListDir(curDir)
		log.PanicIf(listErr)

		var match *FileRecord
		for i := range entries {
			if equalFoldASCII(entries[i].Name, comp) {
				match = &entries[i]
				break
			}
		}

		if match == nil {
			panic(notFoundError("path component not found: %s", comp))
		}

		if idx == len(parts)-1 {
			return *match, nil
		}

		if !match.IsDir() {
			panic(notAFileError("path component is not a directory: %s", comp))
		}

		curDir = match.FirstCluster
	}

	panic(notFoundError("path not found: %s", path))
}

func splitPathComponents(path string) []string {
	rawParts := strings.Split(path, "/")
	parts := make([]string, 0, len(rawParts))
	for _, p := range rawParts {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// WalkFunc receives one resolved path and its FileRecord during Walk.
type WalkFunc func(path string, fr FileRecord) error

// Walk recursively visits every file and directory reachable from the root,
// invoking cb with each one's full forward-slash path. It guards against
// directory-graph cycles the same way ensure_index does.
func (fs *Filesystem) Walk(cb WalkFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	visitedDirs := make(map[uint32]struct{})
	log.PanicIf(fs.walk("", fs.bs.RootDirFirstCluster, visitedDirs, cb))

	return nil
}

// walk is the plain recursive helper behind Walk. It stays on ordinary
// returns rather than the panic/recover idiom used elsewhere in this file:
// Walk is its only caller, and a single recover at that one boundary is
// enough — adding another per recursion level would re-wrap a callback's
// error once per directory depth instead of once.
func (fs *Filesystem) walk(prefix string, dirCluster uint32, visitedDirs map[uint32]struct{}, cb WalkFunc) error {
	if _, seen := visitedDirs[dirCluster]; seen {
		return nil
	}
	visitedDirs[dirCluster] = struct{}{}

	entries, err := fs.ListDir(dirCluster)
	if err != nil {
		return err
	}

	for _, fr := range entries {
		path := prefix + "/" + fr.Name

		if err := cb(path, fr); err != nil {
			return err
		}

		if fr.IsDir() && fr.FirstCluster >= minValidCluster {
			if err := fs.walk(path, fr.FirstCluster, visitedDirs, cb); err != nil {
				return err
			}
		}
	}

	return nil
}

// ensureIndex builds the synthetic-inode index by a depth-first traversal
// from the root directory, guarding against directory-graph cycles with
// its own visited set — FAT-level cycle detection alone isn't enough,
// since a corrupted secondary entry could make two directories legitimately
// share a first_cluster from the traversal's point of view.
func (fs *Filesystem) ensureIndex() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	if fs.indexBuilt {
		return nil
	}

	inodeToRecord := make(map[uint64]inodeEntry)
	visitedDirs := make(map[uint32]struct{})
	stack := []uint32{fs.bs.RootDirFirstCluster}

	for len(stack) > 0 {
		dirCluster := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visitedDirs[dirCluster]; seen {
			continue
		}
		visitedDirs[dirCluster] = struct{}{}

		indexed, indexedErr := fs.listIndexedRecords(dirCluster)
		log.PanicIf(indexedErr)

		for _, ir := range indexed {
			iNum := inodeNumber(dirCluster, ir.primaryIndex)
			inodeToRecord[iNum] = inodeEntry{
				parentFirstCluster: dirCluster,
				primaryIndex:       ir.primaryIndex,
				record:             ir.record,
			}

			if ir.record.IsDir() && ir.record.FirstCluster >= minValidCluster {
				stack = append(stack, ir.record.FirstCluster)
			}
		}
	}

	fs.inodeToRecord = inodeToRecord
	fs.indexBuilt = true

	return nil
}

// GetInode resolves a synthetic inode number to its ExInode view, building
// the index on first use.
func (fs *Filesystem) GetInode(iNum uint64) (inode ExInode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	log.PanicIf(fs.ensureIndex())

	entry, found := fs.inodeToRecord[iNum]
	if !found {
		panic(notFoundError("inode (0x%x)", iNum))
	}

	return newExInode(iNum, entry.record), nil
}

// ListDirInode enumerates every inode whose parent directory is dir,
// sorted lexicographically by name.
func (fs *Filesystem) ListDirInode(dir ExInode) (out []CompatDirEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	log.PanicIf(fs.ensureIndex())

	if !dir.IsDir() {
		panic(notAFileError("inode (0x%x) is not a directory", dir.INum))
	}

	for iNum, entry := range fs.inodeToRecord {
		if entry.parentFirstCluster == dir.FirstCluster {
			out = append(out, newCompatDirEntry(entry.record.Name, iNum, entry.record.IsDir()))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// ReadInode reads the file contents named by an index-backed inode.
func (fs *Filesystem) ReadInode(inode ExInode) (out []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	log.PanicIf(fs.ensureIndex())

	entry, found := fs.inodeToRecord[inode.INum]
	if !found {
		panic(notFoundError("inode (0x%x)", inode.INum))
	}

	if entry.record.IsDir() {
		panic(notAFileError("inode (0x%x) is a directory", inode.INum))
	}

	data, readErr := fs.ReadFile(entry.record)
	log.PanicIf(readErr)

	return data, nil
}
