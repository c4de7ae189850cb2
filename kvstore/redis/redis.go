// Package redis provides a Redis-backed implementation of kvstore.Engine.
//
// Batched puts use MULTI/EXEC so the batch lands atomically from the
// caller's point of view. SCAN returns keys in unspecified order, so prefix
// scans sort the collected keys before iteration to satisfy the engine's
// ordering contract; values are fetched lazily as the iterator advances.
package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/kvgraph/metad/kvstore"
)

// Config for the Redis engine. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: METAD_KEY_PREFIX
	KeyPrefix string `env:"METAD_KEY_PREFIX,default=metad:"`

	// Client overrides RedisAddr when set (used by tests).
	Client *redis.Client
}

// Engine implements kvstore.Engine on a Redis client.
type Engine struct {
	client    *redis.Client
	keyPrefix string
}

var _ kvstore.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	cl := cfg.Client
	if cl == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "metad:"
	}
	return &Engine{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds an Engine using envdecode to populate Config.
func NewFromEnv() (*Engine, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (e *Engine) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := e.client.Get(ctx, e.keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, kvstore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (e *Engine) PrefixScan(ctx context.Context, prefix string) (kvstore.Iterator, error) {
	keys, err := e.scanKeys(ctx, e.keyPrefix+prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	sort.Strings(keys)
	it := &iterator{ctx: ctx, engine: e, keys: keys}
	it.advance()
	return it, nil
}

func (e *Engine) SyncPut(ctx context.Context, batch []kvstore.KV) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := e.client.TxPipeline()
	for _, kv := range batch {
		pipe.Set(ctx, e.keyPrefix+kv.Key, kv.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis batch put: %w", err)
	}
	return nil
}

// AsyncRemove issues the DEL from a goroutine and reports the outcome through
// onComplete, matching the completion-callback contract of the engine
// interface. The background context is deliberate: removal must not be
// abandoned mid-flight by a caller's context.
func (e *Engine) AsyncRemove(key string, onComplete func(error)) {
	go func() {
		err := e.client.Del(context.Background(), e.keyPrefix+key).Err()
		if err != nil {
			err = fmt.Errorf("redis del %s: %w", key, err)
		}
		onComplete(err)
	}()
}

func (e *Engine) Close() error { return e.client.Close() }

// scanKeys uses SCAN to collect all keys matching a pattern.
func (e *Engine) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := e.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// iterator fetches one value per step. Keys deleted between the scan and the
// fetch are skipped rather than surfaced as errors.
type iterator struct {
	ctx    context.Context
	engine *Engine
	keys   []string
	pos    int

	key string
	val []byte
	err error
	ok  bool
}

func (it *iterator) advance() {
	it.ok = false
	for it.pos < len(it.keys) && it.err == nil {
		k := it.keys[it.pos]
		it.pos++
		val, err := it.engine.client.Get(it.ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			it.err = fmt.Errorf("redis get %s: %w", k, err)
			return
		}
		it.key = k[len(it.engine.keyPrefix):]
		it.val = val
		it.ok = true
		return
	}
}

func (it *iterator) Valid() bool   { return it.ok }
func (it *iterator) Key() string   { return it.key }
func (it *iterator) Value() []byte { return it.val }
func (it *iterator) Next()         { it.advance() }
func (it *iterator) Err() error    { return it.err }
func (it *iterator) Close() error  { return nil }
