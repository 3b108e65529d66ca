package authadapters

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StorageError.
type ErrorKind string

const (
	KindInvalid     ErrorKind = "invalid"     // record failed validation
	KindConflict    ErrorKind = "conflict"    // unique key already taken
	KindNotFound    ErrorKind = "not_found"   // update target does not exist
	KindCodec       ErrorKind = "codec"       // value could not be encoded/decoded
	KindBackend     ErrorKind = "backend"     // the underlying medium failed
	KindUnsupported ErrorKind = "unsupported" // operation not offered by the adapter
)

// Sentinels matched by errors.Is against a StorageError of the same kind.
var (
	ErrInvalid     = errors.New("invalid record")
	ErrConflict    = errors.New("record already exists")
	ErrNotFound    = errors.New("record not found")
	ErrCodec       = errors.New("codec failure")
	ErrBackend     = errors.New("storage backend failure")
	ErrUnsupported = errors.New("operation not supported")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalid:     ErrInvalid,
	KindConflict:    ErrConflict,
	KindNotFound:    ErrNotFound,
	KindCodec:       ErrCodec,
	KindBackend:     ErrBackend,
	KindUnsupported: ErrUnsupported,
}

// StorageError is the single error type returned by adapters. Lookups that
// find nothing never produce one; they return a nil record.
type StorageError struct {
	Op    string // adapter operation, e.g. "GetUserByEmail"
	Kind  ErrorKind
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("authadapters: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("authadapters: %s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for this error's kind.
func (e *StorageError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewError builds a StorageError. If err already is a StorageError its kind is kept
// and only the operation is updated.
func NewError(op string, kind ErrorKind, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return &StorageError{Op: op, Kind: se.Kind, Cause: se.Cause}
	}
	return &StorageError{Op: op, Kind: kind, Cause: err}
}

// Backend wraps a medium error. Nil stays nil.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, KindBackend, err)
}

// KindOf returns the kind of a StorageError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func missing(record, field string) error {
	return &StorageError{Op: "Validate", Kind: KindInvalid, Cause: fmt.Errorf("%s: %s is required", record, field)}
}
