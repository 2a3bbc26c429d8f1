package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Default values for a Cache built with zero options.
const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// Entry is a cached value together with the time it was stored.
type Entry struct {
	Key       string
	Value     any
	CreatedAt time.Time
}

// FetchFunc loads the value for a missing key from upstream.
type FetchFunc func(ctx context.Context) (any, error)

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Fetches     int64
	FetchErrors int64
	Entries     int
}

// Cache is a thread-safe in-memory TTL cache with per-key fetch
// de-duplication.
//
// Values handed out by Get and GetOrFetch are shared with every other caller;
// treat them as read-only.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*Entry

	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time // injectable for deterministic tests

	flight singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	fetches     atomic.Int64
	fetchErrors atomic.Int64
}

// New creates a Cache with the given TTL. fetchTimeout bounds a single
// upstream fetch started by GetOrFetch. Non-positive values select the
// defaults.
func New(ttl, fetchTimeout time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Cache{
		data:         make(map[string]*Entry),
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key if it is younger than the TTL.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores value under key, replacing any previous entry and resetting its
// age. Callers must not modify value after calling Put.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: c.now(),
	}
}

// HasValidEntry reports whether key holds an unexpired value.
func (c *Cache) HasValidEntry(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// HasValidRef reports whether any of refs holds an unexpired value. It is the
// reverse lookup from a result object to the slots it may be cached under;
// pass the object's CacheRefs().
func (c *Cache) HasValidRef(refs ...types.Ref) bool {
	for _, r := range refs {
		if c.HasValidEntry(r.Key()) {
			return true
		}
	}
	return false
}

// Count returns the number of entries held, including expired ones that have
// not been overwritten yet.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Fetches:     c.fetches.Load(),
		FetchErrors: c.fetchErrors.Load(),
		Entries:     c.Count(),
	}
}

// GetOrFetch returns the cached value for key, calling fetch on a miss.
//
// At most one fetch per key runs at a time. Callers that miss while a fetch
// for the same key is in flight wait for it and receive its result. The
// fetch runs detached from the first caller's context, bounded by the fetch
// timeout, so one caller giving up does not fail the others; a caller whose
// ctx ends returns ctx.Err() immediately.
//
// A fetch error is returned to every waiter and nothing is cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		// Another flight may have populated the key between our miss and
		// acquiring the flight slot.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		c.fetches.Add(1)
		v, err := fetch(fetchCtx)
		if err != nil {
			c.fetchErrors.Add(1)
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Fetch is the typed form of GetOrFetch. A cached value of a type other than
// T is reported as types.ErrInternal.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		t, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T, want %T: %w", key, v, zero, types.ErrInternal)
	}
	return t, nil
}

// lookup returns the value under key if present and younger than the TTL.
// It does not touch the hit/miss counters.
func (c *Cache) lookup(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.CreatedAt) >= c.ttl {
		return nil, false
	}
	return e.Value, true
}
