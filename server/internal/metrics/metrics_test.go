package metrics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
)

func parse(t *testing.T, b []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, b)
	}
	return mfs
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := New()
	r.Register(func() []Sample {
		return []Sample{
			Counter("things_total", "Things.", 3),
			Gauge("depth", "Depth.", 1.5).With("pool", "a"),
			Gauge("depth", "Depth.", 2).With("pool", "b"),
		}
	})

	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	mfs := parse(t, buf.Bytes())

	things := mfs["tubedrift_things_total"]
	if things == nil || things.GetType() != dto.MetricType_COUNTER {
		t.Fatalf("tubedrift_things_total: got %v", things)
	}
	if got := things.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("things_total: got %v, want 3", got)
	}
	if got := len(mfs["tubedrift_depth"].GetMetric()); got != 2 {
		t.Errorf("depth series: got %d, want 2", got)
	}
}

func TestCacheCollector(t *testing.T) {
	c := cache.New(time.Minute, 0)
	c.Put("video:::golang", 1)
	c.Get("video:::golang")
	c.Get("video:::rust")

	r := New()
	r.Register(CacheCollector(c))

	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	mfs := parse(t, buf.Bytes())

	cases := map[string]float64{
		"tubedrift_cache_hits_total":   1,
		"tubedrift_cache_misses_total": 1,
		"tubedrift_cache_entries":      1,
	}
	for name, want := range cases {
		mf := mfs[name]
		if mf == nil {
			t.Errorf("%s missing from exposition", name)
			continue
		}
		m := mf.GetMetric()[0]
		got := m.GetCounter().GetValue() + m.GetGauge().GetValue()
		if got != want {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestHandler(t *testing.T) {
	pool := workpool.New("test", 1, 1)
	defer pool.Close(context.Background()) //nolint:errcheck

	r := New()
	r.Register(PoolCollector("fetch", pool))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	mfs := parse(t, rec.Body.Bytes())
	q := mfs["tubedrift_workpool_queued"]
	if q == nil {
		t.Fatal("tubedrift_workpool_queued missing")
	}
	if got := q.GetMetric()[0].GetLabel()[0].GetValue(); got != "fetch" {
		t.Errorf("pool label: got %q, want fetch", got)
	}
}
