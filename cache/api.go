package cache

import "context"

// Cache is a segmented, concurrent, in-process key/value cache. All
// methods are safe for concurrent use by multiple goroutines.
//
// The cache is split into 256 hash-partitioned segments, each guarded by
// its own lock; a single background coordinator goroutine owns the global
// LRU list and serializes every structural mutation against it.
type Cache[K comparable, V any] interface {
	// Get returns the value for key and a presence flag. A present but
	// expired entry is reported as absent; the entry itself is pruned
	// lazily, the next time Evict runs (see Refresh).
	// On hit, the entry is promoted to the head of the LRU list.
	Get(key K) (V, bool)

	// Put inserts or replaces key's mapping. If a mapping already existed,
	// a REPLACED removal notification is delivered for it. The new entry
	// is promoted to the head of the LRU list.
	Put(key K, value V)

	// ComputeIfAbsent returns the cached value for key, loading it via
	// loader on a miss. Concurrent calls for the same key are coalesced:
	// loader runs at most once, and every caller observes its result
	// (including a failure). loader is never invoked while any segment
	// lock is held, so a loader may itself call ComputeIfAbsent for a
	// different key without risking a dependent-key deadlock.
	ComputeIfAbsent(ctx context.Context, key K, loader func(ctx context.Context, key K) (V, error)) (V, error)

	// Invalidate removes key if present and reports whether it was. A
	// successful removal delivers an INVALIDATED notification.
	Invalidate(key K) bool

	// InvalidateAll removes every entry and blocks until the removal has
	// taken effect: after it returns, Count and Weight are both zero and
	// exactly one INVALIDATED notification has fired per entry that was
	// live when the call began.
	InvalidateAll()

	// Refresh prunes every entry that is currently over weight or expired
	// and blocks until the prune has taken effect. After it returns,
	// Weight is at or under MaximumWeight (if configured).
	Refresh()

	// Keys returns an iterator over resident keys in promotion order
	// (most-recently-promoted first). Iteration is not synchronized
	// against concurrent mutation and is only well-defined if the caller
	// guarantees quiescence, with one exception: Iterator.Remove on the
	// just-yielded element is always safe.
	Keys() *Iterator[K, V]

	// Values returns an iterator over resident values with the same
	// contract as Keys.
	Values() *Iterator[K, V]

	// Stats returns a best-effort snapshot of hit/miss/eviction counters.
	Stats() Stats

	// Count returns the current number of resident entries, read without
	// locking.
	Count() int64

	// Weight returns the current total weight of resident entries, read
	// without locking.
	Weight() int64

	// Close stops the background coordinator goroutine. It does not clear
	// resident entries or fire removal notifications; a closed Cache's
	// subsequent calls still operate on segments but structural
	// operations (promotion, eviction, invalidation) silently stop taking
	// effect once the coordinator has drained.
	Close() error
}
