// Package memory provides an in-memory kvstore.Engine used by tests and
// single-process deployments. Scans iterate a sorted snapshot of the keys so
// ordering matches what a real sorted store returns.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kvgraph/metad/kvstore"
)

// Engine implements kvstore.Engine over a mutex-guarded map.
type Engine struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ kvstore.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{data: make(map[string][]byte)}
}

func (e *Engine) Get(ctx context.Context, key string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	if !ok {
		return nil, kvstore.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (e *Engine) PrefixScan(ctx context.Context, prefix string) (kvstore.Iterator, error) {
	e.mu.RLock()
	keys := make([]string, 0)
	for k := range e.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		v := e.data[k]
		vals[i] = make([]byte, len(v))
		copy(vals[i], v)
	}
	e.mu.RUnlock()

	return &iterator{keys: keys, vals: vals}, nil
}

func (e *Engine) SyncPut(ctx context.Context, batch []kvstore.KV) error {
	if len(batch) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, kv := range batch {
		v := make([]byte, len(kv.Value))
		copy(v, kv.Value)
		e.data[kv.Key] = v
	}
	return nil
}

// AsyncRemove completes from a separate goroutine to model the
// completion-callback behavior of the real engine.
func (e *Engine) AsyncRemove(key string, onComplete func(error)) {
	go func() {
		e.mu.Lock()
		delete(e.data, key)
		e.mu.Unlock()
		onComplete(nil)
	}()
}

func (e *Engine) Close() error { return nil }

type iterator struct {
	keys []string
	vals [][]byte
	pos  int
}

func (it *iterator) Valid() bool   { return it.pos < len(it.keys) }
func (it *iterator) Key() string   { return it.keys[it.pos] }
func (it *iterator) Value() []byte { return it.vals[it.pos] }
func (it *iterator) Next()         { it.pos++ }
func (it *iterator) Err() error    { return nil }
func (it *iterator) Close() error  { return nil }
