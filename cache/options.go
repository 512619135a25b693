package cache

import (
	"time"

	"github.com/segcache/segcache/internal/removal"
)

// RemovalReason explains why an entry left the cache. The set is closed:
// Evicted (capacity or expiry), Invalidated (explicit Invalidate or
// InvalidateAll), Replaced (Put overwrote an existing mapping).
type RemovalReason = removal.Reason

const (
	Evicted     = removal.Evicted
	Invalidated = removal.Invalidated
	Replaced    = removal.Replaced
)

// RemovalListener is invoked for every removal. It must be reentrancy-safe:
// it may run concurrently with a subsequent Put for the same key, and must
// not block on cache operations that would wait on the coordinator it is
// itself being called from (e.g. never call InvalidateAll or Refresh from
// inside a listener).
type RemovalListener[K comparable, V any] func(key K, value V, reason RemovalReason)

// Weigher assigns a non-negative weight to an entry. A nil Weigher means
// every entry has weight 1 (spec default).
type Weigher[K comparable, V any] func(key K, value V) int64

// Clock provides time in UnixNano; overridable for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a Cache. Zero value is mostly safe: no expiry, no
// weight bound, a constant-1 weigher, a no-op removal listener, NoopMetrics,
// and time.Now as the clock. Options are read once at construction time and
// never mutated afterward.
type Options[K comparable, V any] struct {
	// ExpireAfterAccess evicts entries whose last access is older than
	// this. Non-positive disables access-based expiry (default).
	ExpireAfterAccess time.Duration

	// ExpireAfterWrite evicts entries whose write is older than this.
	// Non-positive disables write-based expiry (default).
	ExpireAfterWrite time.Duration

	// MaximumWeight bounds total weight; exceeding it triggers tail
	// eviction. Zero (default) means unlimited. Must be non-negative.
	MaximumWeight int64

	// Weigher assigns each entry's weight. Nil means constant weight 1.
	Weigher Weigher[K, V]

	// RemovalListener is invoked for every removal. Nil means no-op.
	RemovalListener RemovalListener[K, V]

	// Metrics receives Hit/Miss/Evict/Size signals. Nil defaults to
	// NoopMetrics.
	Metrics Metrics

	// Clock overrides the time source; nil uses time.Now.
	Clock Clock

	// CoordinatorQueueLen bounds the coordinator's structural-operation
	// backlog. Zero picks a reasonable default. This is an operational
	// knob, not part of the cache's observable contract.
	CoordinatorQueueLen int
}
