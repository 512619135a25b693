package cache

import (
	"context"

	"github.com/segcache/segcache/internal/entry"
	"github.com/segcache/segcache/internal/removal"
)

// Iterator walks the LRU list from head (most-recently-promoted) forward.
// It is not synchronized against concurrent mutation; per spec §4.2 and
// §9, behavior under concurrent mutation is defined only if the caller
// guarantees quiescence, with the sole exception of Remove on the
// just-yielded element.
type Iterator[K comparable, V any] struct {
	c       *cache[K, V]
	started bool
	cur     *entry.Entry[K, V]
	next    *entry.Entry[K, V]
}

// Next advances the iterator and reports whether an element is available.
// It must be called before the first Key/Value/Remove.
func (it *Iterator[K, V]) Next() bool {
	if !it.started {
		it.started = true
		it.cur = it.c.coord.UnsafeHead()
	} else {
		it.cur = it.next
	}
	if it.cur == nil {
		return false
	}
	// Capture the link to the following element now, before the caller
	// has a chance to call Remove and have the coordinator asynchronously
	// clear it.cur's links.
	it.next = it.cur.After
	return true
}

// Key returns the current element's key. Only valid after Next returns true.
func (it *Iterator[K, V]) Key() K { return it.cur.Key }

// Value returns the current element's value. Only valid after Next returns
// true.
func (it *Iterator[K, V]) Value() V { return it.cur.Value }

// Remove removes the just-yielded element: it removes the mapping from its
// segment and, if that succeeds, enqueues an INVALIDATED delete. Safe to
// call even though iteration itself is not otherwise synchronized against
// mutation.
func (it *Iterator[K, V]) Remove() {
	idx := it.c.segmentIndex(it.cur.Key)
	removed, ok := it.c.segments[idx].Remove(context.Background(), it.cur.Key)
	if ok {
		it.c.coord.Delete(removed, removal.Invalidated)
	}
}
