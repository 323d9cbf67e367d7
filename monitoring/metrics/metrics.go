// Package metrics records proxy call outcomes twice: as prometheus counters
// for scraping, and as an in-process snapshot served on the admin metrics
// endpoint. Both views are isolate-local and best-effort.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pincer_proxy_requests_total",
		Help: "Proxy calls by adapter, action, outcome and upstream status class.",
	}, []string{"adapter", "action", "outcome", "status_class"})
	proxyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pincer_proxy_latency_ms",
		Help:    "End-to-end proxy call latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})
)

// Sample is one proxy call observation.
type Sample struct {
	Adapter     string
	Action      string
	Outcome     string
	StatusClass string
	DenyReason  string
	LatencyMs   int64
}

// Aggregate is the snapshot view of one label combination.
type Aggregate struct {
	Adapter        string `json:"adapter"`
	Action         string `json:"action"`
	Outcome        string `json:"outcome"`
	StatusClass    string `json:"statusClass,omitempty"`
	DenyReason     string `json:"denyReason,omitempty"`
	Count          int64  `json:"count"`
	TotalLatencyMs int64  `json:"totalLatencyMs"`
}

type recorder struct {
	mu      sync.Mutex
	samples map[Sample]*Aggregate
}

var defaultRecorder = &recorder{samples: map[Sample]*Aggregate{}}

// RecordProxyCall updates both metric views.
func RecordProxyCall(s Sample) {
	proxyRequestsTotal.WithLabelValues(s.Adapter, s.Action, s.Outcome, s.StatusClass).Inc()
	proxyLatency.Observe(float64(s.LatencyMs))

	key := s
	key.LatencyMs = 0
	defaultRecorder.mu.Lock()
	defer defaultRecorder.mu.Unlock()
	agg, ok := defaultRecorder.samples[key]
	if !ok {
		agg = &Aggregate{
			Adapter:     s.Adapter,
			Action:      s.Action,
			Outcome:     s.Outcome,
			StatusClass: s.StatusClass,
			DenyReason:  s.DenyReason,
		}
		defaultRecorder.samples[key] = agg
	}
	agg.Count++
	agg.TotalLatencyMs += s.LatencyMs
}

// Snapshot returns the aggregated proxy observations in a stable order.
func Snapshot() []Aggregate {
	defaultRecorder.mu.Lock()
	defer defaultRecorder.mu.Unlock()
	out := make([]Aggregate, 0, len(defaultRecorder.samples))
	for _, agg := range defaultRecorder.samples {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Adapter != out[j].Adapter {
			return out[i].Adapter < out[j].Adapter
		}
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

// Reset clears the snapshot view. Used by tests.
func Reset() {
	defaultRecorder.mu.Lock()
	defer defaultRecorder.mu.Unlock()
	defaultRecorder.samples = map[Sample]*Aggregate{}
}
