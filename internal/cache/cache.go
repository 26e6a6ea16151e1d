// Package cache memoizes pipeline stage results. Backends store opaque JSON
// values; Memo layers typed decoding and in-flight dedupe on top.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is a byte-valued cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Memo memoizes computations by key. Concurrent calls for the same key
// compute once. Only successful results are stored.
type Memo struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
}

// NewMemo wraps store. A nil store gets a fresh in-memory backend.
func NewMemo(store Store, ttl time.Duration) *Memo {
	if store == nil {
		store = NewMemory()
	}
	return &Memo{store: store, ttl: ttl}
}

// Close releases the backend.
func (m *Memo) Close() error { return m.store.Close() }

// Remember returns the cached value for key or computes, stores and returns
// it. Backend failures are logged and treated as misses.
func Remember[T any](ctx context.Context, m *Memo, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	if m == nil {
		return fn(ctx)
	}
	if v, ok := lookup[T](ctx, m, key); ok {
		return v, nil
	}

	res, err, shared := m.group.Do(key, func() (any, error) {
		if v, ok := lookup[T](ctx, m, key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		raw, merr := json.Marshal(v)
		if merr != nil {
			zap.L().Warn("cache: encode failed", zap.String("key", key), zap.Error(merr))
			return v, nil
		}
		if serr := m.store.Set(ctx, key, raw, m.ttl); serr != nil {
			zap.L().Warn("cache: set failed", zap.String("key", key), zap.Error(serr))
		}
		return v, nil
	})
	if shared {
		zap.L().Debug("cache: shared in-flight result", zap.String("key", key))
	}
	v, _ := res.(T)
	return v, err
}

func lookup[T any](ctx context.Context, m *Memo, key string) (T, bool) {
	var v T
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("cache: decode failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Store guarded by a mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: map[string]memEntry{}, now: time.Now}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store. ttl <= 0 keeps the entry until Close.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close drops every entry.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.entries = map[string]memEntry{}
	m.mu.Unlock()
	return nil
}
