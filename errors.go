package swrcache

import (
	"errors"
	"fmt"
)

// StorageErrorKind classifies a failed durable-store or serialization step.
type StorageErrorKind int

const (
	// StorageQuota: the provider had no room left, even after eviction.
	StorageQuota StorageErrorKind = iota + 1
	// StorageSerialization: a value or document could not be encoded/decoded.
	StorageSerialization
	// StorageUnavailable: the provider failed for any other reason.
	StorageUnavailable
)

func (k StorageErrorKind) String() string {
	switch k {
	case StorageQuota:
		return "quota exceeded"
	case StorageSerialization:
		return "serialization"
	case StorageUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// StorageError is what gets logged and passed to Hooks.PersistFailed. The
// engine never returns it from its own methods; Typed does for encode
// failures so callers can tell them apart.
type StorageError struct {
	Kind StorageErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("swrcache: %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageKind reports whether err is a *StorageError of kind k.
func IsStorageKind(err error, k StorageErrorKind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == k
}

// InvalidateError is returned when generations could not be bumped. The
// entries are still deleted locally, but a refresh already in flight may
// write its result back.
type InvalidateError struct {
	Target string // key or pattern
	Keys   int
	Err    error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("invalidate %q: gen bump failed for %d key(s): %v", e.Target, e.Keys, e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }

var (
	ErrNilEngine   = errors.New("swrcache: nil engine")
	ErrNilCodec    = errors.New("swrcache: codec is required")
	ErrNoNamespace = errors.New("swrcache: namespace is required")
	ErrNilProducer = errors.New("swrcache: nil producer")
)
