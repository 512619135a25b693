// Package segment implements C2 from the cache design: one of the 256
// hash-partitioned shards of the key space. A Segment owns a map from key
// to a promise of an entry, a read/write lock guarding only the map, and
// three best-effort counters (hits, misses, evictions).
//
// Lock scope is deliberately narrow: the lock is held only for the map
// access, never across a promise's completion or a user callback. This is
// what makes it safe for a loader invoked by one key's single-flight
// protocol to call back into the cache for a different key that happens to
// hash to the same segment (spec §4.1, §4.5, §9).
package segment

import (
	"context"
	"sync"

	"github.com/segcache/segcache/internal/entry"
	"github.com/segcache/segcache/internal/promise"
	"github.com/segcache/segcache/internal/util"
)

// Segment is one hash-partitioned shard of the cache's key space.
type Segment[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*promise.Promise[K, V]

	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// New constructs an empty segment.
func New[K comparable, V any]() *Segment[K, V] {
	return &Segment[K, V]{m: make(map[K]*promise.Promise[K, V])}
}

// Get looks up key, awaits its promise outside the lock, and records a hit
// or a miss. isExpired is checked against the entry's access time as it
// stood before this call — before Touch updates it — so that
// ExpireAfterAccess sees the gap since the *previous* access, not a
// just-reset one. An expired entry is reported as a miss and its access
// time is left untouched; only a non-expired hit is promoted.
func (s *Segment[K, V]) Get(ctx context.Context, key K, now int64, isExpired func(*entry.Entry[K, V], int64) bool) (*entry.Entry[K, V], bool) {
	s.mu.RLock()
	p, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	e, err := p.Wait(ctx)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}
	if isExpired != nil && isExpired(e, now) {
		s.misses.Add(1)
		return nil, false
	}
	e.Touch(now)
	s.hits.Add(1)
	return e, true
}

// Put installs a completed-successfully promise wrapping a fresh entry for
// key, capturing whatever promise was previously mapped. Outside the lock,
// it awaits the previous promise (if any) and returns its entry on success.
func (s *Segment[K, V]) Put(ctx context.Context, key K, value V, now, weight int64) (fresh *entry.Entry[K, V], prev *entry.Entry[K, V], hadPrev bool) {
	fresh = entry.NewEntry[K, V](key, value, now, weight)

	s.mu.Lock()
	prevPromise, hadPrev := s.m[key]
	s.m[key] = promise.Resolved[K, V](fresh)
	s.mu.Unlock()

	if !hadPrev {
		return fresh, nil, false
	}
	prevEntry, err := prevPromise.Wait(ctx)
	if err != nil {
		// The prior mapping was a tombstone or a still-failing load; there
		// is nothing to report as replaced.
		return fresh, nil, false
	}
	return fresh, prevEntry, true
}

// Remove deletes key's mapping under the write lock and, outside the lock,
// awaits the removed promise. On success it records an eviction and
// returns the removed entry.
func (s *Segment[K, V]) Remove(ctx context.Context, key K) (*entry.Entry[K, V], bool) {
	s.mu.Lock()
	p, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	e, err := p.Wait(ctx)
	if err != nil {
		return nil, false
	}
	s.evicts.Add(1)
	return e, true
}

// PutIfAbsentPromise atomically installs fresh as key's promise only if no
// promise is currently mapped, and returns whatever promise ends up mapped
// (fresh, if it won the race; otherwise the existing one) along with
// whether a prior promise already existed. This is the compare-and-install
// primitive the single-flight protocol uses to pick a leader (spec §4.5).
func (s *Segment[K, V]) PutIfAbsentPromise(key K, fresh *promise.Promise[K, V]) (actual *promise.Promise[K, V], loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[key]; ok {
		return existing, true
	}
	s.m[key] = fresh
	return fresh, false
}

// RemoveIfStillFailed removes key's mapping only if it is still mapped to
// exactly p and p completed exceptionally. This is step 4 of the
// single-flight protocol (spec §4.5): a follower must not clear a mapping
// that a concurrent Put has already replaced.
func (s *Segment[K, V]) RemoveIfStillFailed(key K, p *promise.Promise[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok && cur == p && p.IsFailed() {
		delete(s.m, key)
	}
}

// RemoveIfSame removes key's mapping only if it currently resolves to
// exactly want, and reports whether it did. The coordinator uses this
// during Evict: by the time a tail entry is pruned, a concurrent Put may
// already have replaced it in the segment, in which case the newer mapping
// must be left alone (spec §4.3's ordering rule: segment mutation precedes
// list mutation, so eviction must never clobber a value a reader could
// already be observing as current).
//
// want is always in state Existing when this is called, which means its
// own promise already resolved. A mapping whose promise is still pending
// therefore cannot resolve to want and is left alone without waiting; a
// completed promise's Wait returns at once, so it is safe under the lock.
func (s *Segment[K, V]) RemoveIfSame(key K, want *entry.Entry[K, V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[key]
	if !ok || !p.Done() {
		return false
	}
	got, err := p.Wait(context.Background())
	if err != nil || got != want {
		return false
	}
	delete(s.m, key)
	s.evicts.Add(1)
	return true
}

// LockForInvalidateAll acquires the write lock ahead of InvalidateAll
// swapping in a fresh map. Segment write locks are acquired across all
// segments in ascending index order by the coordinator (spec §4.3, §5) and
// released in reverse order, which is the only place multiple segment
// locks are ever held at once.
func (s *Segment[K, V]) LockForInvalidateAll() { s.mu.Lock() }

// ClearLocked replaces the map with an empty one. Must be called with the
// write lock held (after LockForInvalidateAll).
func (s *Segment[K, V]) ClearLocked() { s.m = make(map[K]*promise.Promise[K, V]) }

// UnlockForInvalidateAll releases the write lock taken by
// LockForInvalidateAll.
func (s *Segment[K, V]) UnlockForInvalidateAll() { s.mu.Unlock() }

// Counters is a snapshot of this segment's best-effort statistics.
type Counters struct {
	Hits      int64
	Misses    int64
	Evictions uint64
}

// Snapshot returns the current counter values without coordinating with
// concurrent updates (spec §5: "approximate reads allowed").
func (s *Segment[K, V]) Snapshot() Counters {
	return Counters{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evicts.Load(),
	}
}
