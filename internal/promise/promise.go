// Package promise implements the future a segment's map stores as its
// value: something that eventually resolves to an entry, or to a failure.
//
// This is the single-flight protocol's backbone (spec §4.5): a segment
// installs one Promise per in-flight or completed key, and every caller —
// leader or follower — waits on the same Promise to observe the same
// result.
package promise

import (
	"context"
	"sync/atomic"

	"github.com/segcache/segcache/internal/entry"
)

type state int32

const (
	pending state = iota
	resolved
	failed
)

// Promise is a value that eventually resolves to an *entry.Entry[K, V] or
// to an error. It is safe for concurrent use: at most one goroutine ever
// resolves or fails a given Promise (the leader in the single-flight
// protocol); any number of goroutines may Wait concurrently.
type Promise[K comparable, V any] struct {
	done  chan struct{}
	st    atomic.Int32
	entry *entry.Entry[K, V]
	err   error
}

// Pending returns an incomplete Promise. The caller (the single-flight
// leader) must eventually call Resolve or Fail exactly once.
func Pending[K comparable, V any]() *Promise[K, V] {
	return &Promise[K, V]{done: make(chan struct{})}
}

// Resolved returns a Promise that is already complete with e. Segment.Put
// uses this: the value is known synchronously, so there is no need to
// allocate a pending Promise only to resolve it immediately.
func Resolved[K comparable, V any](e *entry.Entry[K, V]) *Promise[K, V] {
	p := &Promise[K, V]{done: closedChan}
	p.st.Store(int32(resolved))
	p.entry = e
	return p
}

// Failed returns a Promise that is already complete with err: a tombstone
// of the kind a later writer evicts (spec §3, Segment invariant). The cache
// itself produces tombstones through Pending and Fail.
func Failed[K comparable, V any](err error) *Promise[K, V] {
	p := &Promise[K, V]{done: closedChan}
	p.st.Store(int32(failed))
	p.err = err
	return p
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Resolve completes a pending Promise successfully. Must be called at most
// once, only by the single-flight leader.
func (p *Promise[K, V]) Resolve(e *entry.Entry[K, V]) {
	p.entry = e
	p.st.Store(int32(resolved))
	close(p.done)
}

// Fail completes a pending Promise with an error. Must be called at most
// once, only by the single-flight leader.
func (p *Promise[K, V]) Fail(err error) {
	p.err = err
	p.st.Store(int32(failed))
	close(p.done)
}

// Wait blocks until the Promise completes or ctx is done, then returns the
// entry on success or the failure error. A canceled ctx unblocks only the
// waiting goroutine; it never affects the leader or other followers.
func (p *Promise[K, V]) Wait(ctx context.Context) (*entry.Entry[K, V], error) {
	select {
	case <-p.done:
		if state(p.st.Load()) == failed {
			return nil, p.err
		}
		return p.entry, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the Promise has completed, successfully or with a
// failure. It never blocks.
func (p *Promise[K, V]) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// IsFailed reports whether a completed Promise resolved to a failure. The
// caller must only invoke this once Done reports true.
func (p *Promise[K, V]) IsFailed() bool { return state(p.st.Load()) == failed }
