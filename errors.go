package exfat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures that a public operation on this package
// can return. Forensic callers branch on Kind rather than on error strings.
type ErrorKind int

const (
	// KindIO indicates a failure reading from the underlying byte source,
	// including a short read.
	KindIO ErrorKind = iota

	// KindParse indicates a structural rejection of on-disk bytes: a BPB
	// that fails validation. A directory-entry set that can't be assembled
	// is discarded rather than reported.
	KindParse

	// KindNotFound indicates a named path component, inode number, or
	// directory doesn't exist.
	KindNotFound

	// KindNotAFile indicates a read-as-bytes operation targeted a
	// directory.
	KindNotAFile
)

// String returns the lowercase kind name, used in Error().
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not-found"
	case KindNotAFile:
		return "not-a-file"
	default:
		return "unknown"
	}
}

// FsError is the concrete error type returned by every public operation in
// this package. It carries a classified Kind alongside the usual message/
// cause chain so that callers can use errors.As without parsing strings.
type FsError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exfat: %s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}

	return fmt.Sprintf("exfat: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *FsError) Unwrap() error {
	return e.Cause
}

func ioError(cause error, format string, args ...interface{}) *FsError {
	return &FsError{Kind: KindIO, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func parseError(format string, args ...interface{}) *FsError {
	return &FsError{Kind: KindParse, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...interface{}) *FsError {
	return &FsError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func notAFileError(format string, args ...interface{}) *FsError {
	return &FsError{Kind: KindNotAFile, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound returns true if err is (or wraps) a KindNotFound FsError.
func IsNotFound(err error) bool {
	var fe *FsError
	return errors.As(err, &fe) && fe.Kind == KindNotFound
}

// IsNotAFile returns true if err is (or wraps) a KindNotAFile FsError.
func IsNotAFile(err error) bool {
	var fe *FsError
	return errors.As(err, &fe) && fe.Kind == KindNotAFile
}

// IsParse returns true if err is (or wraps) a KindParse FsError.
func IsParse(err error) bool {
	var fe *FsError
	return errors.As(err, &fe) && fe.Kind == KindParse
}

// IsIO returns true if err is (or wraps) a KindIO FsError.
func IsIO(err error) bool {
	var fe *FsError
	return errors.As(err, &fe) && fe.Kind == KindIO
}
