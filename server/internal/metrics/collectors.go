package metrics

import (
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/dispatch"
	"github.com/tubedrift/tubedrift/server/internal/poller"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
)

// CacheCollector reports the cache counters.
func CacheCollector(c *cache.Cache) Collector {
	return func() []Sample {
		st := c.Stats()
		return []Sample{
			Counter("cache_hits_total", "Cache lookups answered from a valid entry.", float64(st.Hits)),
			Counter("cache_misses_total", "Cache lookups that found no valid entry.", float64(st.Misses)),
			Counter("cache_fetches_total", "Upstream fetches started on a cache miss.", float64(st.Fetches)),
			Counter("cache_fetch_errors_total", "Upstream fetches that failed.", float64(st.FetchErrors)),
			Gauge("cache_entries", "Entries held, including expired ones not yet overwritten.", float64(st.Entries)),
		}
	}
}

// DispatchCollector reports the dispatcher counters.
func DispatchCollector(d *dispatch.Dispatcher) Collector {
	return func() []Sample {
		st := d.Stats()
		return []Sample{
			Counter("dispatch_requests_total", "Requests accepted into the inbox.", float64(st.Dispatched)),
			Counter("dispatch_rejected_total", "Requests refused because the inbox was full or closed.", float64(st.Rejected)),
			Counter("dispatch_failed_total", "Requests answered with an error response.", float64(st.Failed)),
			Gauge("dispatch_inbox_depth", "Requests waiting in the inbox.", float64(st.Queued)),
		}
	}
}

// PollerCollector reports the poller counters.
func PollerCollector(m *poller.Manager) Collector {
	return func() []Sample {
		st := m.Stats()
		return []Sample{
			Counter("poll_cycles_total", "Poll cycles run over a non-empty history.", float64(st.Cycles)),
			Counter("poll_changes_total", "Poll cycles that detected changed results.", float64(st.Changes)),
			Counter("poll_failures_total", "Poll cycles in which every fetch failed.", float64(st.Failed)),
			Gauge("poll_sessions", "Sessions currently being polled.", float64(st.Active)),
			Gauge("poll_interval_seconds", "Current poll period.", m.Interval().Seconds()),
		}
	}
}

// PoolCollector reports the depth of a work pool.
func PoolCollector(name string, p *workpool.Pool) Collector {
	return func() []Sample {
		return []Sample{
			Gauge("workpool_queued", "Tasks waiting for a worker.", float64(p.Queued())).With("pool", name),
			Gauge("workpool_running", "Tasks currently executing.", float64(p.Running())).With("pool", name),
		}
	}
}
