// This file produces ext-style directory-entry and inode views so that
// downstream tooling which already understands ext-family filesystems can
// browse an exFAT volume through the same shapes.

package exfat

import "fmt"

// CompatDirEntry is an ext-style directory entry: a fixed-size record
// shape that downstream listing code can treat uniformly regardless of
// which filesystem backs it.
type CompatDirEntry struct {
	Inode    uint64
	RecLen   uint16
	FileType uint8
	Name     string
}

const (
	compatFileTypeRegular   uint8 = 1
	compatFileTypeDirectory uint8 = 2
)

// newCompatDirEntry builds a CompatDirEntry for a named inode.
func newCompatDirEntry(name string, inode uint64, isDir bool) CompatDirEntry {
	fileType := compatFileTypeRegular
	if isDir {
		fileType = compatFileTypeDirectory
	}

	return CompatDirEntry{
		Inode:    inode,
		RecLen:   directoryEntrySize,
		FileType: fileType,
		Name:     name,
	}
}

// String renders the entry the way the teacher's Dump()-adjacent types
// render themselves: compact, single line.
func (cde CompatDirEntry) String() string {
	if cde.Name == "" {
		return fmt.Sprintf("%d :  ? : 0x%x", cde.Inode, cde.FileType)
	}

	return fmt.Sprintf("%d :  %s : 0x%x", cde.Inode, cde.Name, cde.FileType)
}

// ExInode is a fake-inode wrapper giving an ext-like identity to an
// assembled FileRecord.
type ExInode struct {
	INum         uint64
	Attributes   FileAttributes
	FirstCluster uint32
	Size         uint64
	Name         string
}

// newExInode derives an ExInode from a FileRecord and the synthetic
// identifier already assigned to it.
func newExInode(iNum uint64, fr FileRecord) ExInode {
	return ExInode{
		INum:         iNum,
		Attributes:   fr.Attributes,
		FirstCluster: fr.FirstCluster,
		Size:         fr.Size,
		Name:         fr.Name,
	}
}

// IsDir reports whether this inode describes a directory.
func (ei ExInode) IsDir() bool {
	return ei.Attributes.IsDirectory()
}

// IsRegularFile is the complement of IsDir.
func (ei ExInode) IsRegularFile() bool {
	return !ei.IsDir()
}

// Dump prints the inode's fields to STDOUT, matching the teacher's
// Dump() convention for structured, forensic-facing types.
func (ei ExInode) Dump() {
	fmt.Printf("ExInode\n")
	fmt.Printf("=======\n")
	fmt.Printf("\n")

	fmt.Printf("Identifier: (0x%x)\n", ei.INum)
	fmt.Printf("Attributes: %s\n", ei.Attributes)
	fmt.Printf("FirstCluster: (%d)\n", ei.FirstCluster)
	fmt.Printf("Size: (%d)\n", ei.Size)
	fmt.Printf("IsDir: [%v]\n", ei.IsDir())
	fmt.Printf("Name: [%s]\n", ei.Name)
	fmt.Printf("\n")
}

func (ei ExInode) String() string {
	return fmt.Sprintf("ExInode<I-NUM=(0x%x) NAME=[%s] IS-DIR=[%v]>", ei.INum, ei.Name, ei.IsDir())
}
