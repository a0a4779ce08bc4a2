// Package cachemap provides a concurrency-safe map that coalesces concurrent
// initializations of the same key: however many callers ask for a key at
// once, the initializer runs at most once and everyone receives its result.
package cachemap

import (
	"context"
	"errors"
	"sync"
)

// ErrRecursiveCall is returned when an initializer, directly or through
// nested calls, re-requests the key it is currently computing.
var ErrRecursiveCall = errors.New("recursive call detected")

type CacheMap[K comparable, T any] struct {
	mu    sync.Mutex
	calls map[K]*call[T]
}

type call[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

type contextKey[K comparable, T any] struct {
	key K
	m   *CacheMap[K, T]
}

func New[K comparable, T any]() *CacheMap[K, T] {
	return &CacheMap[K, T]{calls: map[K]*call[T]{}}
}

// GetOrInit returns the cached value for key, waiting for an in-flight
// initialization if one is running, or runs fn to produce it. The boolean
// reports whether the value came from the cache. A failed initialization is
// evicted so a later call can retry.
func (m *CacheMap[K, T]) GetOrInit(ctx context.Context, key K, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	if ctx.Value(contextKey[K, T]{key: key, m: m}) != nil {
		var zero T
		return zero, false, ErrRecursiveCall
	}

	m.mu.Lock()
	if c, ok := m.calls[key]; ok {
		m.mu.Unlock()
		c.wg.Wait()
		return c.val, true, c.err
	}

	c := &call[T]{}
	c.wg.Add(1)
	m.calls[key] = c
	m.mu.Unlock()

	ctx = context.WithValue(ctx, contextKey[K, T]{key: key, m: m}, struct{}{})
	c.val, c.err = fn(ctx)
	c.wg.Done()

	if c.err != nil {
		m.mu.Lock()
		delete(m.calls, key)
		m.mu.Unlock()
	}

	return c.val, false, c.err
}

// Set stores a value without running an initializer.
func (m *CacheMap[K, T]) Set(key K, val T) {
	m.mu.Lock()
	m.calls[key] = &call[T]{val: val}
	m.mu.Unlock()
}

// Keys returns a snapshot of the keys currently present, including keys whose
// initialization is still in flight.
func (m *CacheMap[K, T]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.calls))
	for k := range m.calls {
		keys = append(keys, k)
	}
	return keys
}
