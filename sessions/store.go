package sessions

import (
	"context"

	"github.com/kvgraph/metad/kvstore"
)

// store is the synchronous façade the manager uses over the asynchronous
// replicated engine. Everything here runs with the domain lock already held
// by the caller.
type store struct {
	engine kvstore.Engine
}

func (s *store) get(ctx context.Context, key string) ([]byte, error) {
	return s.engine.Get(ctx, key)
}

func (s *store) prefixScan(ctx context.Context, prefix string) (kvstore.Iterator, error) {
	return s.engine.PrefixScan(ctx, prefix)
}

func (s *store) syncPut(ctx context.Context, batch []kvstore.KV) error {
	return s.engine.SyncPut(ctx, batch)
}

// remove bridges the engine's completion callback to blocking-call semantics
// with a one-shot channel. The wait has no timeout and does not observe ctx:
// a wedged engine stalls the lock holder, which is a documented property of
// this layer.
func (s *store) remove(ctx context.Context, key string) error {
	done := make(chan error, 1)
	s.engine.AsyncRemove(key, func(err error) {
		done <- err
	})
	return <-done
}
