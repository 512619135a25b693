// Package cache implements a segmented, concurrent, in-process key/value
// cache with optional time- and weight-based eviction, LRU ordering,
// single-flight computation, and removal notifications.
//
// The cache is split into 256 fixed hash-partitioned segments (C2), each
// guarded by its own RWMutex. A single background coordinator goroutine
// (C4) is the sole owner of the global LRU list (C3) and the global
// count/weight totals; every structural mutation — linking, relinking,
// unlinking, eviction, and bulk invalidation — is serialized through it.
// Readers and writers never touch the list directly; they enqueue
// structural operations and return as soon as their own segment's map has
// been updated.
//
// Basic usage
//
//	c := cache.New[string, string](cache.Options[string, string]{})
//	c.Put("a", "1")
//	v, ok := c.Get("a") // ok == true, v == "1"
//
// With expiry and a weight bound
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    ExpireAfterWrite: 5 * time.Minute,
//	    MaximumWeight:    1 << 20,
//	    Weigher:          func(_ string, v []byte) int64 { return int64(len(v)) },
//	})
//
// With ComputeIfAbsent (single-flight load)
//
//	v, err := c.ComputeIfAbsent(ctx, "k", func(ctx context.Context, k string) (string, error) {
//	    return fetchFromUpstream(ctx, k)
//	})
package cache

import (
	"context"
	"reflect"
	"time"

	"github.com/segcache/segcache/internal/coordinator"
	"github.com/segcache/segcache/internal/entry"
	"github.com/segcache/segcache/internal/promise"
	"github.com/segcache/segcache/internal/removal"
	"github.com/segcache/segcache/internal/segment"
	"github.com/segcache/segcache/internal/util"
)

// numSegments is fixed by spec §6: "Segment count is fixed at 256; the
// segment of a key is the low eight bits of its hash."
const numSegments = 256

// cache is the facade implementation (C5). All methods are safe for
// concurrent use by multiple goroutines.
type cache[K comparable, V any] struct {
	segments []*segment.Segment[K, V]
	coord    *coordinator.Coordinator[K, V]

	opt Options[K, V]

	expireAfterAccessNs int64
	expireAfterWriteNs  int64
}

// New constructs a cache with the given Options. MaximumWeight must be
// non-negative; everything else is zero-value safe.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaximumWeight < 0 {
		panic("cache: MaximumWeight must be >= 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	segments := make([]*segment.Segment[K, V], numSegments)
	for i := range segments {
		segments[i] = segment.New[K, V]()
	}

	c := &cache[K, V]{
		segments:            segments,
		opt:                 opt,
		expireAfterAccessNs: int64(opt.ExpireAfterAccess),
		expireAfterWriteNs:  int64(opt.ExpireAfterWrite),
	}

	c.coord = coordinator.New[K, V](coordinator.Deps[K, V]{
		Segments:      segments,
		SegmentIndex:  c.segmentIndex,
		MaximumWeight: opt.MaximumWeight,
		IsExpired:     c.isExpired,
		Notify: func(key K, value V, reason removal.Reason) {
			opt.Metrics.Evict(reason)
			if opt.RemovalListener != nil {
				opt.RemovalListener(key, value, reason)
			}
		},
		OnSizeChanged: func(count, weight int64) {
			opt.Metrics.Size(int(count), weight)
		},
	}, opt.CoordinatorQueueLen)

	return c
}

// ---- Cache[K, V] implementation ----

func (c *cache[K, V]) Get(key K) (V, bool) {
	now := c.now()
	idx := c.segmentIndex(key)
	e, ok := c.segments[idx].Get(context.Background(), key, now, c.isExpired)
	if !ok {
		c.opt.Metrics.Miss()
		var zero V
		return zero, false
	}
	c.opt.Metrics.Hit()
	c.promote(e, now)
	return e.Value, true
}

func (c *cache[K, V]) Put(key K, value V) {
	now := c.now()
	weight := c.weightOf(key, value)
	idx := c.segmentIndex(key)
	fresh, prev, hadPrev := c.segments[idx].Put(context.Background(), key, value, now, weight)
	if hadPrev {
		c.coord.Delete(prev, removal.Replaced)
	}
	c.promote(fresh, now)
}

func (c *cache[K, V]) ComputeIfAbsent(ctx context.Context, key K, loader func(context.Context, K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	idx := c.segmentIndex(key)
	seg := c.segments[idx]

	fresh := promise.Pending[K, V]()
	actual, loaded := seg.PutIfAbsentPromise(key, fresh)
	if !loaded {
		c.runLoader(ctx, key, fresh, loader)
	}

	e, err := actual.Wait(ctx)
	if err != nil {
		seg.RemoveIfStillFailed(key, actual)
		var zero V
		return zero, err
	}
	c.promote(e, c.now())
	return e.Value, nil
}

// runLoader is the single-flight leader's path (spec §4.5 step 3): invoke
// the loader outside all locks and complete p with the result.
func (c *cache[K, V]) runLoader(ctx context.Context, key K, p *promise.Promise[K, V], loader func(context.Context, K) (V, error)) {
	value, err := loader(ctx, key)
	if err != nil {
		p.Fail(err)
		return
	}
	if isNilLoaderResult(value) {
		p.Fail(ErrNilLoaderResult)
		return
	}
	now := c.now()
	e := entry.NewEntry[K, V](key, value, now, c.weightOf(key, value))
	p.Resolve(e)
}

func (c *cache[K, V]) Invalidate(key K) bool {
	idx := c.segmentIndex(key)
	e, ok := c.segments[idx].Remove(context.Background(), key)
	if !ok {
		return false
	}
	c.coord.Delete(e, removal.Invalidated)
	return true
}

func (c *cache[K, V]) InvalidateAll() {
	c.coord.InvalidateAll()
}

func (c *cache[K, V]) Refresh() {
	c.coord.Evict(c.now())
	c.coord.Barrier()
}

func (c *cache[K, V]) Keys() *Iterator[K, V]   { return &Iterator[K, V]{c: c} }
func (c *cache[K, V]) Values() *Iterator[K, V] { return &Iterator[K, V]{c: c} }

func (c *cache[K, V]) Stats() Stats {
	var s Stats
	for _, seg := range c.segments {
		cs := seg.Snapshot()
		s.Hits += cs.Hits
		s.Misses += cs.Misses
		s.Evictions += cs.Evictions
	}
	return s
}

func (c *cache[K, V]) Count() int64  { return c.coord.Count() }
func (c *cache[K, V]) Weight() int64 { return c.coord.Weight() }

func (c *cache[K, V]) Close() error {
	c.coord.Stop()
	return nil
}

// ---- promotion (§4.6) ----

// promote observes e's state without locking the list and enqueues the
// structural operation that follows from it; every promotion is followed
// by an Evict, which is what keeps weight and expiry bounded without a
// separate sweeper (spec §4.6).
func (c *cache[K, V]) promote(e *entry.Entry[K, V], now int64) bool {
	switch e.State() {
	case entry.Deleted:
		return false
	case entry.Existing:
		c.coord.RelinkAtHead(e)
		c.coord.Evict(now)
		return true
	default: // New
		c.coord.LinkAtHead(e)
		c.coord.Evict(now)
		return true
	}
}

// ---- helpers ----

// segmentIndex fingerprints key to one of the 256 fixed segments via the
// low eight bits of its hash (spec §6).
func (c *cache[K, V]) segmentIndex(key K) int {
	return int(util.Fnv64a(key) & 0xFF)
}

// now returns the monotonic clock reading used for expiry and write-time
// stamping. It returns zero when neither expiry kind is configured, to
// avoid reading the clock at all on the common no-expiry path (spec §4.2).
func (c *cache[K, V]) now() int64 {
	if c.expireAfterAccessNs == 0 && c.expireAfterWriteNs == 0 {
		return 0
	}
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// isExpired implements spec §4.7.
func (c *cache[K, V]) isExpired(e *entry.Entry[K, V], now int64) bool {
	if c.expireAfterAccessNs > 0 && now-e.AccessTimeNanos() > c.expireAfterAccessNs {
		return true
	}
	if c.expireAfterWriteNs > 0 && now-e.WriteTimeNanos > c.expireAfterWriteNs {
		return true
	}
	return false
}

// weightOf computes an entry's weight, clamped to non-negative.
func (c *cache[K, V]) weightOf(key K, value V) int64 {
	if c.opt.Weigher == nil {
		return 1
	}
	w := c.opt.Weigher(key, value)
	if w < 0 {
		w = 0
	}
	return w
}

// isNilLoaderResult reports whether v is a nil pointer/interface/map/
// slice/chan/func, the reference-typed kinds for which "the loader
// returned null" is a meaningful, distinguishable outcome (spec §7).
// Value types (structs, numbers, strings, arrays) can never be "null" and
// always report false here.
func isNilLoaderResult(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
