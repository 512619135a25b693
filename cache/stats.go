package cache

// Stats is a best-effort snapshot of a cache's counters (spec §4.2, §8.6):
// summed from independent per-segment counters without a barrier, so it is
// not a point-in-time consistent view, but hits/misses/evictions never
// decrease.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions uint64
}
