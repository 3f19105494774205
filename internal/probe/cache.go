package probe

import (
	"context"
	"time"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/lru"
)

// Cached decorates a Prober with an LRU of successful snapshots.
// Failures are never cached so a transient upstream error is retried on
// the next analysis.
type Cached struct {
	next    Prober
	cache   *lru.Cache[string, Snapshot]
	metrics *metrics.Metrics
}

// NewCached wraps next. m may be nil.
func NewCached(next Prober, size int, ttl time.Duration, m *metrics.Metrics) *Cached {
	return &Cached{
		next:    next,
		cache:   lru.New[string, Snapshot](size, lru.WithTTL[string, Snapshot](ttl)),
		metrics: m,
	}
}

// Probe returns a cached snapshot when one is live, probing otherwise.
func (c *Cached) Probe(ctx context.Context, ref string) Snapshot {
	key := CacheKey(ref)
	if snap, ok := c.cache.Get(key); ok {
		c.metrics.RecordProbe("cached")
		snap.Ref = ref
		return snap
	}

	snap := c.next.Probe(ctx, ref)
	if snap.Success {
		c.metrics.RecordProbe("ok")
		c.cache.Put(key, snap)
	} else {
		c.metrics.RecordProbe("failed")
	}
	return snap
}

// Stats exposes cache counters.
func (c *Cached) Stats() lru.Stats {
	return c.cache.Stats()
}
