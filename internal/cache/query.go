package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current server value for a key.
type Fetcher func(ctx context.Context) ([]byte, error)

type EventKind int

const (
	EventInvalidated EventKind = iota + 1
	EventUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventInvalidated:
		return "invalidated"
	case EventUpdated:
		return "updated"
	}
	return "unknown"
}

// Event is delivered to subscribers when a key is invalidated or refetched.
type Event struct {
	Key  Key
	Kind EventKind
}

// Stats is a point-in-time view of one cache entry.
type Stats struct {
	Stale         bool
	Fetches       int
	Invalidations int
	FetchedAt     time.Time
}

type entry struct {
	key           Key
	stale         bool
	generation    uint64
	fetches       int
	invalidations int
	fetchedAt     time.Time
}

type subscription struct {
	prefix Key
	fn     func(Event)
}

// QueryCache is a key-addressed read-through cache of server collections and
// entities. Values live in a Store; staleness and in-flight state are local.
//
// Invalidation never performs I/O: it marks the key stale, and the next Get
// refetches. At most one fetch per key is in flight at a time.
type QueryCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]subscription
	nextSub int

	group singleflight.Group
}

type Option func(*QueryCache)

// WithTTL bounds how long values are kept in the store. Zero keeps them until
// overwritten. Staleness is driven by invalidation, not by this TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *QueryCache) { c.ttl = ttl }
}

func NewQueryCache(store Store, opts ...Option) *QueryCache {
	c := &QueryCache{
		store:   store,
		now:     time.Now,
		entries: make(map[string]*entry),
		subs:    make(map[int]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, fetching it if the key is stale,
// never fetched, or missing from the store.
func (c *QueryCache) Get(ctx context.Context, key Key, fetch Fetcher) ([]byte, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	fresh := !e.stale
	c.mu.Unlock()

	if fresh {
		val, ok, err := c.store.Get(ctx, key.String())
		if err != nil {
			slog.Warn("cache store read failed, refetching", "key", key.String(), "error", err)
		}
		if ok {
			return val, nil
		}
	}

	return c.fetch(ctx, e, fetch)
}

// Refresh marks key stale and reads it again. Concurrent refreshes of the
// same key share one fetch.
func (c *QueryCache) Refresh(ctx context.Context, key Key, fetch Fetcher) ([]byte, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.stale = true
	c.mu.Unlock()

	return c.fetch(ctx, e, fetch)
}

// Peek returns whatever value the store holds for key, stale or not, without fetching.
func (c *QueryCache) Peek(ctx context.Context, key Key) ([]byte, bool) {
	val, ok, err := c.store.Get(ctx, key.String())
	if err != nil {
		return nil, false
	}
	return val, ok
}

// Invalidate marks key stale. Invalidating an already-stale key only bumps
// its generation, so repeated calls have the effect of one.
func (c *QueryCache) Invalidate(key Key) {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.invalidateLocked(e)
	c.mu.Unlock()

	c.notify(Event{Key: key, Kind: EventInvalidated})
}

// InvalidatePrefix marks every known key under prefix stale.
func (c *QueryCache) InvalidatePrefix(prefix Key) {
	var matched []Key

	c.mu.Lock()
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			c.invalidateLocked(e)
			matched = append(matched, e.key)
		}
	}
	c.mu.Unlock()

	for _, k := range matched {
		c.notify(Event{Key: k, Kind: EventInvalidated})
	}
}

// Subscribe registers fn for events on keys under prefix. The returned func
// removes the subscription. fn runs synchronously on the goroutine that
// caused the event and must not block.
func (c *QueryCache) Subscribe(prefix Key, fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = subscription{prefix: append(Key(nil), prefix...), fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Stats reports the state of key. Unknown keys report as stale with zero counts.
func (c *QueryCache) Stats(key Key) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return Stats{Stale: true}
	}
	return Stats{
		Stale:         e.stale,
		Fetches:       e.fetches,
		Invalidations: e.invalidations,
		FetchedAt:     e.fetchedAt,
	}
}

func (c *QueryCache) fetch(ctx context.Context, e *entry, fetch Fetcher) ([]byte, error) {
	k := e.key.String()

	v, err, _ := c.group.Do(k, func() (any, error) {
		c.mu.Lock()
		gen := e.generation
		e.fetches++
		c.mu.Unlock()

		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.store.Set(ctx, k, val, c.ttl); err != nil {
			slog.Warn("cache store write failed", "key", k, "error", err)
		}

		c.mu.Lock()
		e.fetchedAt = c.now()
		// An invalidation that landed mid-flight keeps the entry stale so the
		// next read picks up whatever changed.
		if e.generation == gen {
			e.stale = false
		}
		c.mu.Unlock()

		c.notify(Event{Key: e.key, Kind: EventUpdated})
		return val, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", k, err)
	}
	return v.([]byte), nil
}

// entryLocked returns the entry for key, creating a stale one if needed. Caller holds c.mu.
func (c *QueryCache) entryLocked(key Key) *entry {
	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: append(Key(nil), key...), stale: true}
		c.entries[k] = e
	}
	return e
}

func (c *QueryCache) invalidateLocked(e *entry) {
	e.stale = true
	e.generation++
	e.invalidations++
}

func (c *QueryCache) notify(ev Event) {
	c.mu.Lock()
	var fns []func(Event)
	for _, s := range c.subs {
		if ev.Key.HasPrefix(s.prefix) {
			fns = append(fns, s.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Read is a typed Get: the fetched value is JSON-encoded into the cache and
// decoded on every read, so callers never share a mutable value.
func Read[T any](ctx context.Context, c *QueryCache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	raw, err := c.Get(ctx, key, jsonFetcher(fetch))
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](key, raw)
}

// Reload is a typed Refresh.
func Reload[T any](ctx context.Context, c *QueryCache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	raw, err := c.Refresh(ctx, key, jsonFetcher(fetch))
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](key, raw)
}

// PeekAs is a typed Peek.
func PeekAs[T any](ctx context.Context, c *QueryCache, key Key) (T, bool) {
	var zero T
	raw, ok := c.Peek(ctx, key)
	if !ok {
		return zero, false
	}
	v, err := decode[T](key, raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

func jsonFetcher[T any](fetch func(context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

func decode[T any](key Key, raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return v, nil
}
