package metrics

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every metric name.
const Namespace = "tubedrift"

// Sample is one metric value.
type Sample struct {
	Name   string
	Help   string
	Type   dto.MetricType
	Value  float64
	Labels map[string]string
}

// Counter returns a counter sample named Namespace_name.
func Counter(name, help string, v float64) Sample {
	return Sample{Name: Namespace + "_" + name, Help: help, Type: dto.MetricType_COUNTER, Value: v}
}

// Gauge returns a gauge sample named Namespace_name.
func Gauge(name, help string, v float64) Sample {
	return Sample{Name: Namespace + "_" + name, Help: help, Type: dto.MetricType_GAUGE, Value: v}
}

// With returns a copy of s carrying the extra label.
func (s Sample) With(label, value string) Sample {
	labels := make(map[string]string, len(s.Labels)+1)
	for k, v := range s.Labels {
		labels[k] = v
	}
	labels[label] = value
	s.Labels = labels
	return s
}

// Collector reports the current samples of one component.
type Collector func() []Sample

// Registry gathers samples from registered collectors.
type Registry struct {
	mu         sync.RWMutex
	collectors []Collector
}

// New creates an empty Registry.
func New() *Registry { return &Registry{} }

// Register adds c to the registry.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, c)
}

// Gather collects every sample and groups them into metric families sorted
// by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.RLock()
	collectors := append([]Collector(nil), r.collectors...)
	r.mu.RUnlock()

	families := make(map[string]*dto.MetricFamily)
	for _, c := range collectors {
		for _, s := range c() {
			mf, ok := families[s.Name]
			if !ok {
				mf = &dto.MetricFamily{
					Name: ptr(s.Name),
					Help: ptr(s.Help),
					Type: s.Type.Enum(),
				}
				families[s.Name] = mf
			}
			mf.Metric = append(mf.Metric, toMetric(s))
		}
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, len(names))
	for i, name := range names {
		out[i] = families[name]
	}
	return out
}

// WriteTo encodes every family in the text exposition format.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			return 0, fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.WriteTo(w)
}

// Handler serves the registry at a scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if _, err := r.WriteTo(w); err != nil {
			slog.Error("metrics: write exposition", "err", err)
		}
	})
}

func toMetric(s Sample) *dto.Metric {
	m := &dto.Metric{}

	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Label = append(m.Label, &dto.LabelPair{Name: ptr(k), Value: ptr(s.Labels[k])})
	}

	switch s.Type {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: ptr(s.Value)}
	case dto.MetricType_GAUGE:
		m.Gauge = &dto.Gauge{Value: ptr(s.Value)}
	default:
		m.Untyped = &dto.Untyped{Value: ptr(s.Value)}
	}
	return m
}

func ptr[T any](v T) *T { return &v }
