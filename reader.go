// This file defines the byte-source contract the filesystem facade reads
// through, and an adapter for callers that only have a seekable stream.

package exfat

import (
	"io"
	"sync"

	"github.com/dsoprea/go-logging"
)

// ByteSource is the positioned-read contract the core requires of its I/O
// collaborator: given (offset, length) it must produce exactly length
// bytes or an error. Go's io.ReaderAt already guarantees this — short
// reads without io.EOF are an error, and a single ReaderAt may be read
// concurrently by multiple callers, so no bespoke interface is needed.
type ByteSource interface {
	io.ReaderAt
}

// seekerByteSource adapts an io.ReadSeeker — which has only one current
// position — to ByteSource by serializing every Seek+Read pair behind a
// mutex. It's for callers with a plain seekable stream and no concurrent-
// read requirement; anything already implementing io.ReaderAt (an *os.File,
// a bytes.Reader) should be used directly instead.
type seekerByteSource struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

// NewSeekerByteSource adapts rs to ByteSource.
func NewSeekerByteSource(rs io.ReadSeeker) ByteSource {
	return &seekerByteSource{rs: rs}
}

func (s *seekerByteSource) ReadAt(p []byte, off int64) (n int, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, seekErr := s.rs.Seek(off, io.SeekStart)
	log.PanicIf(seekErr)

	return io.ReadFull(s.rs, p)
}
