package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// Basic Get/Put semantics: a miss before Put, a hit with the stored value
// after.
func TestCache_BasicMissHit(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss before Put")
	}
	c.Put("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get a: want 1, got %v ok=%v", v, ok)
	}
}

// Replacing a key's value delivers a REPLACED notification for the old
// value, not the new one.
func TestCache_Put_Replace(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotValue int
	var gotReason RemovalReason

	c := New[string, int](Options[string, int]{
		RemovalListener: func(_ string, value int, reason RemovalReason) {
			mu.Lock()
			gotValue, gotReason = value, reason
			mu.Unlock()
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1)
	c.Put("a", 2)
	c.Refresh() // drain the coordinator so the notification has fired

	mu.Lock()
	defer mu.Unlock()
	if gotReason != Replaced || gotValue != 1 {
		t.Fatalf("want Replaced/1, got %v/%v", gotReason, gotValue)
	}
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Fatalf("Get a: want 2, got %v ok=%v", v, ok)
	}
}

// Uses a fake clock to avoid timing flakiness. Ensures write-based expiry
// is respected.
func TestCache_ExpireAfterWrite_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{
		ExpireAfterWrite: 100 * time.Millisecond,
		Clock:            clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("x", "v")
	if _, ok := c.Get("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("expired hit")
	}
}

// Access-based expiry resets on every Get.
func TestCache_ExpireAfterAccess_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{
		ExpireAfterAccess: 100 * time.Millisecond,
		Clock:             clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("x", "v")
	clk.add(60 * time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("expected hit before the access window elapses")
	}
	clk.add(60 * time.Millisecond) // 60ms since the Get above, still fresh
	if _, ok := c.Get("x"); !ok {
		t.Fatal("expected hit: access was refreshed by the prior Get")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("expected miss: no access within the window")
	}
}

// Deterministic weight-based eviction: a MaximumWeight of 2 keeps only the
// two most-recently-promoted keys once Refresh has run.
func TestCache_EvictionByWeight(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaximumWeight: 2})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1)
	c.Put("b", 2)
	if _, ok := c.Get("a"); !ok { // promote a -> head
		t.Fatal("expect hit for a")
	}
	c.Put("c", 3) // over weight; should push out the LRU entry (b)
	c.Refresh()

	if _, ok := c.Get("b"); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a must survive (promoted)")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatal("c must be present")
	}
	if w := c.Weight(); w > 2 {
		t.Fatalf("Weight() = %d, want <= 2", w)
	}
}

// A custom Weigher is honored: once the combined weight exceeds
// MaximumWeight, the least-recently-promoted entry is evicted on the next
// Refresh.
func TestCache_CustomWeigher(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{
		MaximumWeight: 15,
		Weigher:       func(_ string, v []byte) int64 { return int64(len(v)) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("small", []byte("12345"))     // weight 5
	c.Put("big", []byte("0123456789x")) // weight 11; combined 16 > 15
	c.Refresh()

	if _, ok := c.Get("small"); ok {
		t.Fatal("small should have been evicted to make room for big")
	}
	if _, ok := c.Get("big"); !ok {
		t.Fatal("big should remain: its own weight fits under MaximumWeight")
	}
}

// ComputeIfAbsent coalesces concurrent loads for the same key: the loader
// runs at most once and every caller observes its result.
func TestCache_ComputeIfAbsent_Singleflight(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	loader := func(_ context.Context, k string) (string, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(5 * time.Millisecond) // simulate I/O
		return "v:" + k, nil
	}

	const n = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := c.ComputeIfAbsent(ctx, "k", loader)
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}

	if v, err := c.ComputeIfAbsent(context.Background(), "k", loader); err != nil || v != "v:k" {
		t.Fatalf("subsequent ComputeIfAbsent failed: v=%q err=%v", v, err)
	}
}

// A loader's own error propagates to every waiting caller, and the key
// remains absent so a later call can try again.
func TestCache_ComputeIfAbsent_LoaderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("upstream unavailable")
	var attempts int64

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	loader := func(_ context.Context, _ string) (string, error) {
		n := atomic.AddInt64(&attempts, 1)
		if n == 1 {
			return "", wantErr
		}
		return "v", nil
	}

	if _, err := c.ComputeIfAbsent(context.Background(), "k", loader); !errors.Is(err, wantErr) {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("a failed load must not leave a mapping behind")
	}
	if v, err := c.ComputeIfAbsent(context.Background(), "k", loader); err != nil || v != "v" {
		t.Fatalf("retry should succeed: v=%q err=%v", v, err)
	}
}

// A loader returning a nil pointer/slice/map is reported as
// ErrNilLoaderResult, not as a successful nil value.
func TestCache_ComputeIfAbsent_NilLoaderResult(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.ComputeIfAbsent(context.Background(), "k", func(context.Context, string) ([]byte, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrNilLoaderResult) {
		t.Fatalf("want ErrNilLoaderResult, got %v", err)
	}
}

// ComputeIfAbsent with no loader and no cached value reports ErrNoLoader.
func TestCache_ComputeIfAbsent_NoLoader(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.ComputeIfAbsent(context.Background(), "k", nil); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("want ErrNoLoader, got %v", err)
	}
}

// A loader for one key is free to call back into the cache for a different
// key, even one that happens to hash to the same segment, without
// deadlocking: segment locks are never held across a loader call.
func TestCache_ComputeIfAbsent_DependentKey(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	var loadB func(ctx context.Context, k string) (string, error)
	loadA := func(ctx context.Context, _ string) (string, error) {
		v, err := c.ComputeIfAbsent(ctx, "b", loadB)
		if err != nil {
			return "", err
		}
		return "a-depends-on-" + v, nil
	}
	loadB = func(context.Context, string) (string, error) { return "b-value", nil }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := c.ComputeIfAbsent(ctx, "a", loadA)
	if err != nil {
		t.Fatal(err)
	}
	if v != "a-depends-on-b-value" {
		t.Fatalf("got %q", v)
	}
}

// Invalidate removes a present key and reports false for an absent one; a
// removed key fires an INVALIDATED notification.
func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	var reason RemovalReason
	var got bool
	c := New[string, int](Options[string, int]{
		RemovalListener: func(_ string, _ int, r RemovalReason) { reason, got = r, true },
	})
	t.Cleanup(func() { _ = c.Close() })

	if c.Invalidate("missing") {
		t.Fatal("Invalidate on an absent key must return false")
	}

	c.Put("a", 1)
	if !c.Invalidate("a") {
		t.Fatal("Invalidate on a present key must return true")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Invalidate")
	}
	c.Refresh() // drain the coordinator so the notification has fired
	if !got || reason != Invalidated {
		t.Fatalf("want an Invalidated notification, got reason=%v fired=%v", reason, got)
	}
}

// InvalidateAll empties the cache and blocks until every entry has been
// removed and notified exactly once.
func TestCache_InvalidateAll(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	notified := map[string]RemovalReason{}
	c := New[string, int](Options[string, int]{
		RemovalListener: func(k string, _ int, r RemovalReason) {
			mu.Lock()
			notified[k] = r
			mu.Unlock()
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 50; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	c.InvalidateAll()

	if n := c.Count(); n != 0 {
		t.Fatalf("Count() = %d, want 0", n)
	}
	if w := c.Weight(); w != 0 {
		t.Fatalf("Weight() = %d, want 0", w)
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatal("k0 should be gone")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 50 {
		t.Fatalf("got %d notifications, want 50", len(notified))
	}
	for k, r := range notified {
		if r != Invalidated {
			t.Fatalf("key %s notified with reason %v, want Invalidated", k, r)
		}
	}
}

// Keys/Values iterate the LRU list in promotion order after the coordinator
// has quiesced.
func TestCache_Keys_Order(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Refresh() // quiesce so iteration order is well-defined

	var got []string
	for it := c.Keys(); it.Next(); {
		got = append(got, it.Key())
	}
	want := []string{"c", "b", "a"} // most-recently-promoted first
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// Iterator.Remove on the just-yielded element is always safe, even though
// iteration is otherwise unsynchronized against mutation.
func TestCache_Iterator_RemoveCurrent(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1)
	c.Put("b", 2)
	c.Refresh()

	it := c.Keys()
	for it.Next() {
		it.Remove()
	}
	c.Refresh()

	if n := c.Count(); n != 0 {
		t.Fatalf("Count() = %d, want 0 after removing every iterated key", n)
	}
}

// Stats accumulates hits and misses across segments.
func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1)
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 1 {
		t.Fatalf("Hits = %d, want 1", s.Hits)
	}
	if s.Misses != 1 {
		t.Fatalf("Misses = %d, want 1", s.Misses)
	}
}
