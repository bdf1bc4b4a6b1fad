// Package provider defines the durable key-value store that backs the
// persistent cache tier.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression), they MUST be fully reversed so that the bytes returned by
// Get are identical to the bytes provided to Set.
//
// Important: the keyspace under the engine's Prefix (default "swr:") is owned by
// swrcache. Foreign writes under that prefix are treated as corrupt documents and
// deleted on load.
package provider

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Set when the store has no room for the value.
// The persistence bridge reacts by evicting and retrying once.
var ErrQuotaExceeded = errors.New("provider: storage quota exceeded")

// ErrClosed is returned by operations on a closed provider.
var ErrClosed = errors.New("provider: closed")

// Provider is a durable string-keyed byte store with finite capacity and a
// change feed. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value without expiry; expiry is tracked inside the document.
	Set(ctx context.Context, key string, value []byte) error

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Keys lists stored keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Watch calls fn for keys changed by another handle or process. Changes made
	// through this handle are not reported. stop unsubscribes.
	Watch(ctx context.Context, fn func(key string)) (stop func(), err error)

	// Close releases resources.
	Close(ctx context.Context) error
}
