package cache

// Metrics exposes cache-level observability hooks. NoopMetrics is used
// when Options.Metrics is nil; plug metrics/prom.Adapter (or any other
// implementation) in to export them.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason RemovalReason)
	Size(count int, weight int64)
}

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                {}
func (NoopMetrics) Miss()               {}
func (NoopMetrics) Evict(RemovalReason) {}
func (NoopMetrics) Size(_ int, _ int64) {}
