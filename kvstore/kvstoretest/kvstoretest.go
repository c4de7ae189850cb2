// Package kvstoretest provides a reusable conformance suite for
// kvstore.Engine implementations. Backends run it from their own tests so
// every engine honors the same Get/PrefixScan/SyncPut/AsyncRemove contract.
package kvstoretest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kvgraph/metad/kvstore"
)

// EngineFactory creates a fresh, empty Engine for one test.
type EngineFactory func(t *testing.T) kvstore.Engine

// RunEngineTests runs the complete Engine conformance suite against the
// provided factory.
func RunEngineTests(t *testing.T, factory EngineFactory) {
	t.Run("Get_MissingKeyReturnsErrKeyNotFound", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("SyncPut_BatchIsReadableAfterReturn", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("SyncPut_EmptyBatchIsNoOp", func(t *testing.T) { testPutEmpty(t, factory) })
	t.Run("SyncPut_OverwritesExistingValue", func(t *testing.T) { testPutOverwrite(t, factory) })
	t.Run("PrefixScan_AscendingKeyOrder", func(t *testing.T) { testScanOrder(t, factory) })
	t.Run("PrefixScan_RespectsPrefix", func(t *testing.T) { testScanPrefix(t, factory) })
	t.Run("PrefixScan_EmptyRange", func(t *testing.T) { testScanEmpty(t, factory) })
	t.Run("AsyncRemove_CallbackFiresAndKeyIsGone", func(t *testing.T) { testAsyncRemove(t, factory) })
	t.Run("AsyncRemove_AbsentKeySucceeds", func(t *testing.T) { testAsyncRemoveAbsent(t, factory) })
}

func testGetMissing(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()

	_, err := eng.Get(context.Background(), "nope")
	if !errors.Is(err, kvstore.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func testPutThenGet(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()
	ctx := context.Background()

	batch := []kvstore.KV{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	if err := eng.SyncPut(ctx, batch); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}
	for _, kv := range batch {
		got, err := eng.Get(ctx, kv.Key)
		if err != nil {
			t.Fatalf("Get(%q): %v", kv.Key, err)
		}
		if string(got) != string(kv.Value) {
			t.Fatalf("Get(%q) = %q, want %q", kv.Key, got, kv.Value)
		}
	}
}

func testPutEmpty(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()

	if err := eng.SyncPut(context.Background(), nil); err != nil {
		t.Fatalf("empty SyncPut: %v", err)
	}
}

func testPutOverwrite(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()
	ctx := context.Background()

	if err := eng.SyncPut(ctx, []kvstore.KV{{Key: "k", Value: []byte("old")}}); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}
	if err := eng.SyncPut(ctx, []kvstore.KV{{Key: "k", Value: []byte("new")}}); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}
	got, err := eng.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("Get = %q, want %q", got, "new")
	}
}

func testScanOrder(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()
	ctx := context.Background()

	// Insert out of order; the scan must come back sorted.
	var batch []kvstore.KV
	for _, i := range []int{3, 1, 2, 5, 4} {
		batch = append(batch, kvstore.KV{
			Key:   fmt.Sprintf("scan:%04d", i),
			Value: []byte(fmt.Sprintf("v%d", i)),
		})
	}
	if err := eng.SyncPut(ctx, batch); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}

	keys := collectKeys(t, eng, "scan:")
	want := []string{"scan:0001", "scan:0002", "scan:0003", "scan:0004", "scan:0005"}
	if len(keys) != len(want) {
		t.Fatalf("scan returned %d keys, want %d: %v", len(keys), len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func testScanPrefix(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()
	ctx := context.Background()

	batch := []kvstore.KV{
		{Key: "alpha:1", Value: []byte("a")},
		{Key: "beta:1", Value: []byte("b")},
		{Key: "alpha:2", Value: []byte("c")},
	}
	if err := eng.SyncPut(ctx, batch); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}

	keys := collectKeys(t, eng, "alpha:")
	if len(keys) != 2 || keys[0] != "alpha:1" || keys[1] != "alpha:2" {
		t.Fatalf("unexpected keys under alpha: %v", keys)
	}
}

func testScanEmpty(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()

	keys := collectKeys(t, eng, "void:")
	if len(keys) != 0 {
		t.Fatalf("expected empty scan, got %v", keys)
	}
}

func testAsyncRemove(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()
	ctx := context.Background()

	if err := eng.SyncPut(ctx, []kvstore.KV{{Key: "doomed", Value: []byte("x")}}); err != nil {
		t.Fatalf("SyncPut: %v", err)
	}

	done := make(chan error, 1)
	eng.AsyncRemove("doomed", func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AsyncRemove callback: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AsyncRemove callback never fired")
	}

	if _, err := eng.Get(ctx, "doomed"); !errors.Is(err, kvstore.ErrKeyNotFound) {
		t.Fatalf("key still present after remove, err=%v", err)
	}
}

func testAsyncRemoveAbsent(t *testing.T, factory EngineFactory) {
	eng := factory(t)
	defer eng.Close()

	done := make(chan error, 1)
	eng.AsyncRemove("never-existed", func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("removing absent key should succeed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AsyncRemove callback never fired")
	}
}

func collectKeys(t *testing.T, eng kvstore.Engine, prefix string) []string {
	t.Helper()
	it, err := eng.PrefixScan(context.Background(), prefix)
	if err != nil {
		t.Fatalf("PrefixScan(%q): %v", prefix, err)
	}
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, it.Key())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return keys
}
