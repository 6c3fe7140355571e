// Package cache implements the large-object cache that typed payloads are
// moved into when they are too large to travel inline.
//
// Entries live in an in-memory map keyed by payload id. A background loop
// periodically writes new entries to a disk store (see package store) and
// prunes disk records older than the expiry window. A memory miss falls
// through to the disk store; a disk hit repopulates memory.
//
// The cache is best effort: disk failures are logged and the cache keeps
// serving from memory.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/nodegraph-go/graph/cache/store"
)

// Defaults.
const (
	DefaultFlushInterval = time.Minute
	DefaultExpiry        = 2 * time.Hour
)

// Lookup tiers reported to Metrics.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// ErrNotFound is returned by Lookup when an id is neither in memory nor on
// disk.
var ErrNotFound = errors.New("cache: not found")

// Codec converts native values to the bytes kept in the disk store.
type Codec interface {
	Encode(class string, value any) ([]byte, error)
	Decode(class string, b []byte) (any, error)
}

// Metrics receives cache activity. graph.PrometheusMetrics implements it.
type Metrics interface {
	RecordCacheLookup(tier string, hit bool)
	RecordCacheFlush(entries int, err error)
	RecordCacheEviction(tier string, n int)
}

type entry struct {
	class    string
	value    any
	storedAt time.Time
	flushed  bool
}

// Cache is the process-wide large-object cache. It is safe for concurrent
// use by any number of runs.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	codec    Codec
	store    store.Store
	interval time.Duration
	expiry   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  Metrics

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the disk store. Without one the cache is memory only.
func WithStore(s store.Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithFlushInterval sets how often the background loop writes to disk.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithExpiry sets the age after which entries are discarded.
func WithExpiry(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.expiry = d
		}
	}
}

// WithLogger sets the logger used for disk errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache. codec is required when a store is configured.
func New(codec Codec, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		codec:    codec,
		interval: DefaultFlushInterval,
		expiry:   DefaultExpiry,
		now:      time.Now,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value under id, replacing any previous entry.
func (c *Cache) Set(_ context.Context, id, class string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = &entry{class: class, value: value, storedAt: c.now()}
}

// Get returns the discriminator and value stored under id.
func (c *Cache) Get(ctx context.Context, id string) (string, any, bool) {
	class, value, err := c.Lookup(ctx, id)
	return class, value, err == nil
}

// Exists reports whether id can be resolved.
func (c *Cache) Exists(ctx context.Context, id string) bool {
	_, _, ok := c.Get(ctx, id)
	return ok
}

// Lookup is Get with an error describing why an id could not be resolved.
func (c *Cache) Lookup(ctx context.Context, id string) (string, any, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		c.recordLookup(TierMemory, true)
		return e.class, e.value, nil
	}
	c.recordLookup(TierMemory, false)

	if c.store == nil {
		return "", nil, ErrNotFound
	}
	c.pruneDisk(ctx)

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		c.recordLookup(TierDisk, false)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrNotFound
		}
		c.logger.WarnContext(ctx, "cache disk read failed", "id", id, "error", err)
		return "", nil, errors.Join(ErrNotFound, err)
	}
	value, err := c.codec.Decode(rec.DType, rec.Payload)
	if err != nil {
		c.recordLookup(TierDisk, false)
		c.logger.WarnContext(ctx, "cache entry could not be decoded", "id", id, "dtype", rec.DType, "error", err)
		return "", nil, errors.Join(ErrNotFound, err)
	}
	c.recordLookup(TierDisk, true)

	c.mu.Lock()
	if _, raced := c.entries[id]; !raced {
		c.entries[id] = &entry{class: rec.DType, value: value, storedAt: rec.Timestamp, flushed: true}
	}
	c.mu.Unlock()
	return rec.DType, value, nil
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush writes every entry not yet on disk to the store, after pruning
// expired disk records and evicting expired memory entries.
func (c *Cache) Flush(ctx context.Context) error {
	c.Expire(ctx)
	if c.store == nil {
		return nil
	}

	type pending struct {
		id string
		e  *entry
	}
	c.mu.RLock()
	var batch []pending
	for id, e := range c.entries {
		if !e.flushed {
			batch = append(batch, pending{id, e})
		}
	}
	c.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}

	records := make([]store.Record, 0, len(batch))
	written := make([]pending, 0, len(batch))
	for _, p := range batch {
		b, err := c.codec.Encode(p.e.class, p.e.value)
		if err != nil {
			c.logger.WarnContext(ctx, "cache entry could not be encoded", "id", p.id, "dtype", p.e.class, "error", err)
			continue
		}
		records = append(records, store.Record{ID: p.id, DType: p.e.class, Payload: b, Timestamp: p.e.storedAt})
		written = append(written, p)
	}

	err := c.store.Put(ctx, records...)
	if c.metrics != nil {
		c.metrics.RecordCacheFlush(len(records), err)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "cache flush failed", "entries", len(records), "error", err)
		return err
	}

	c.mu.Lock()
	for _, p := range written {
		// Only mark the entry that was encoded; a concurrent Set replaces it.
		if cur, ok := c.entries[p.id]; ok && cur == p.e {
			cur.flushed = true
		}
	}
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "cache flushed", "entries", len(records))
	return nil
}

// Expire deletes disk records older than the expiry window and evicts
// expired memory entries. A memory entry is only evicted once it has been
// written to disk, or when there is no disk store.
func (c *Cache) Expire(ctx context.Context) {
	cutoff := c.now().Add(-c.expiry)

	c.mu.Lock()
	evicted := 0
	for id, e := range c.entries {
		if e.storedAt.Before(cutoff) && (e.flushed || c.store == nil) {
			delete(c.entries, id)
			evicted++
		}
	}
	c.mu.Unlock()
	if evicted > 0 && c.metrics != nil {
		c.metrics.RecordCacheEviction(TierMemory, evicted)
	}

	if c.store != nil {
		c.pruneDisk(ctx)
	}
}

func (c *Cache) pruneDisk(ctx context.Context) {
	n, err := c.store.DeleteOlderThan(ctx, c.now().Add(-c.expiry))
	if err != nil {
		c.logger.WarnContext(ctx, "cache disk prune failed", "error", err)
		return
	}
	if n > 0 && c.metrics != nil {
		c.metrics.RecordCacheEviction(TierDisk, n)
	}
}

func (c *Cache) recordLookup(tier string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(tier, hit)
	}
}

// Start launches the background flush loop. It runs until ctx is done or
// Close is called. Calling Start more than once has no effect.
func (c *Cache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.loop(ctx)
	})
}

func (c *Cache) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.Flush(ctx)
		}
	}
}

// Close stops the flush loop, writes pending entries and closes the store.
func (c *Cache) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		// Consume startOnce so a loop that never ran is not waited on.
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
		if c.store == nil {
			return
		}
		err = errors.Join(c.Flush(ctx), c.store.Close())
	})
	return err
}
