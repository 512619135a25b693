// Package lrulist implements C3: the single doubly-linked list chaining
// every live entry in promotion order. It is exclusively owned by the
// coordinator goroutine (internal/coordinator) — no other goroutine ever
// writes Head, Tail, Count, or Weight, or an entry's Before/After links,
// and the only outside reader is the unsynchronized Keys/Values iterator
// (see Coordinator.UnsafeHead). That exclusivity is what lets every method
// here run without a lock.
package lrulist

import "github.com/segcache/segcache/internal/entry"

// List is the coordinator's view of the cache's LRU order plus the global
// totals spec §3 calls out as "written only by the Coordinator".
type List[K comparable, V any] struct {
	Head *entry.Entry[K, V] // most-recently-promoted
	Tail *entry.Entry[K, V] // least-recently-promoted

	count  int64
	weight int64
}

// Count returns the number of entries currently linked.
func (l *List[K, V]) Count() int64 { return l.count }

// Weight returns the sum of linked entries' weights.
func (l *List[K, V]) Weight() int64 { return l.weight }

// LinkAtHead inserts e at the head. It expects e.State() == entry.New, but
// tolerates being called twice for the same entry: two independent
// promotions (e.g. a Put and a racing Get observing the same still-New
// entry) may both enqueue a link for it before the coordinator processes
// either. Once the entry is already Existing, a second LinkAtHead behaves
// like RelinkAtHead instead of double-counting; an already-Deleted entry
// is never re-promoted (spec §3).
func (l *List[K, V]) LinkAtHead(e *entry.Entry[K, V]) {
	switch e.State() {
	case entry.Existing:
		l.RelinkAtHead(e)
		return
	case entry.Deleted:
		return
	}

	e.Before = nil
	e.After = l.Head
	if l.Head != nil {
		l.Head.Before = e
	}
	l.Head = e
	if l.Tail == nil {
		l.Tail = e
	}
	l.count++
	l.weight += e.Weight
	e.SetState(entry.Existing)
}

// RelinkAtHead moves e to the head in place if it is Existing and not
// already there. No counter changes: the entry was already accounted for.
func (l *List[K, V]) RelinkAtHead(e *entry.Entry[K, V]) {
	if e.State() != entry.Existing || e == l.Head {
		return
	}
	l.unlinkNode(e)
	e.Before = nil
	e.After = l.Head
	if l.Head != nil {
		l.Head.Before = e
	}
	l.Head = e
	if l.Tail == nil {
		l.Tail = e
	}
}

// Unlink splices e out of the list if it is Existing, decrements the
// global totals, and marks it Deleted. Returns false if e was already not
// in the list (e.g. previously deleted).
func (l *List[K, V]) Unlink(e *entry.Entry[K, V]) bool {
	if e.State() != entry.Existing {
		return false
	}
	l.unlinkNode(e)
	l.count--
	l.weight -= e.Weight
	e.SetState(entry.Deleted)
	return true
}

// unlinkNode splices e out of the list without touching counters or state.
// Shared by RelinkAtHead (which re-inserts immediately) and Unlink (which
// does not).
func (l *List[K, V]) unlinkNode(e *entry.Entry[K, V]) {
	if e.Before != nil {
		e.Before.After = e.After
	}
	if e.After != nil {
		e.After.Before = e.Before
	}
	if l.Head == e {
		l.Head = e.After
	}
	if l.Tail == e {
		l.Tail = e.Before
	}
	e.Before, e.After = nil, nil
}

// Reset clears the list's head/tail/count/weight and marks every
// currently-linked entry Deleted, returning the entries that were live
// (head-to-tail order) so the caller can fire removal notifications. Used
// only by InvalidateAll in the coordinator, after all segment write locks
// have been acquired.
func (l *List[K, V]) Reset() []*entry.Entry[K, V] {
	live := make([]*entry.Entry[K, V], 0, l.count)
	for e := l.Head; e != nil; {
		next := e.After
		e.Before, e.After = nil, nil
		e.SetState(entry.Deleted)
		live = append(live, e)
		e = next
	}
	l.Head, l.Tail = nil, nil
	l.count, l.weight = 0, 0
	return live
}
