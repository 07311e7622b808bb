package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for broad classification.
var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrCopyFailed           = errors.New("copy failed")
	ErrWriteFailed          = errors.New("write failed")
	ErrJournalFailed        = errors.New("journal failed")
)

// ErrorKind is a coarse-grained categorization for errors.
type ErrorKind string

const (
	KindInvalidPath          ErrorKind = "invalid_path"
	KindDirectoryUnavailable ErrorKind = "directory_unavailable"
	KindCopyFailed           ErrorKind = "copy_failed"
	KindWriteFailed          ErrorKind = "write_failed"
	KindJournalFailed        ErrorKind = "journal_failed"
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidPath:          ErrInvalidPath,
	KindDirectoryUnavailable: ErrDirectoryUnavailable,
	KindCopyFailed:           ErrCopyFailed,
	KindWriteFailed:          ErrWriteFailed,
	KindJournalFailed:        ErrJournalFailed,
}

// OpError wraps an underlying error with operation context and a kind.
type OpError struct {
	Op   string
	Kind ErrorKind
	Path string // Optional: offending file, directory or argument
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match an OpError against the sentinel of its kind.
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// IsKind reports whether err is an OpError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}
