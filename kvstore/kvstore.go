// Package kvstore defines the boundary to the replicated key-value engine
// backing all metadata persistence. The engine is modeled the way the real
// store behaves: reads and prefix scans are synchronous, batched puts block
// until the whole batch is durably committed, and removal is asynchronous
// with a completion callback. Higher layers that need blocking removal
// bridge the callback themselves.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when the key does not exist. Callers
// that need a domain-specific not-found error remap it at their boundary.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// KV is one key-value pair in a put batch.
type KV struct {
	Key   string
	Value []byte
}

// Iterator walks the results of a prefix scan in ascending key order. It is
// finite and not restartable; callers must Close it when done and check Err
// after the final Next.
//
// Usage:
//
//	it, err := eng.PrefixScan(ctx, prefix)
//	if err != nil { ... }
//	defer it.Close()
//	for ; it.Valid(); it.Next() {
//		_ = it.Key()
//		_ = it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Valid() bool
	Key() string
	Value() []byte
	Next()
	Err() error
	Close() error
}

// Engine is the contract a replicated key-value engine must satisfy.
//
// Semantics:
//   - Get returns ErrKeyNotFound for absent keys and engine errors otherwise.
//   - PrefixScan yields all pairs whose key starts with prefix, in ascending
//     lexicographic key order.
//   - SyncPut applies the batch atomically from the caller's point of view
//     and returns only once the batch is durably committed. An empty batch
//     is a successful no-op.
//   - AsyncRemove schedules removal of a single key and invokes onComplete
//     exactly once with the outcome. Removing an absent key succeeds.
type Engine interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PrefixScan(ctx context.Context, prefix string) (Iterator, error)
	SyncPut(ctx context.Context, batch []KV) error
	AsyncRemove(key string, onComplete func(error))
	Close() error
}
