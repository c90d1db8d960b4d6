package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modstore/internal/translate"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via expvar.
// It fulfills MetricsRecorder for deployments that prefer process-local metrics
// without a scrape endpoint. Totals are kept in milliseconds per operation
// alongside success/error, cache and decode failure counters.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	cache     map[string]map[string]int64
	decode    map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS    map[string]float64          `json:"durations_ms_total"`
	Results        map[string]map[string]int64 `json:"results_total"`
	CacheLookups   map[string]map[string]int64 `json:"cache_lookups_total"`
	DecodeFailures map[string]int64            `json:"key_decode_failures_total"`
	RecordedAt     time.Time                   `json:"recorded_at"`
}

var (
	_ MetricsRecorder    = (*ExpvarMetricsRecorder)(nil)
	_ CacheRecorder      = (*ExpvarMetricsRecorder)(nil)
	_ translate.Reporter = (*ExpvarMetricsRecorder)(nil)
)

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("modstore_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		cache:     make(map[string]map[string]int64),
		decode:    make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	decode := make(map[string]int64, len(r.decode))
	for schema, n := range r.decode {
		decode[schema] = n
	}

	return ExpvarMetricsSnapshot{
		DurationsMS:    durations,
		Results:        copyCounts(r.results),
		CacheLookups:   copyCounts(r.cache),
		DecodeFailures: decode,
		RecordedAt:     time.Now().UTC(),
	}
}

func copyCounts(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for k, counts := range in {
		cpy := make(map[string]int64, len(counts))
		for status, n := range counts {
			cpy[status] = n
		}
		out[k] = cpy
	}
	return out
}

func bump(m map[string]map[string]int64, key, status string) {
	if _, ok := m[key]; !ok {
		m[key] = make(map[string]int64, 2)
	}
	m[key][status]++
}

// Observe records a backend operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	r.durations[operation] += ms
	bump(r.results, operation, resultLabel(success))
	r.mu.Unlock()
}

// CacheLookup records a cache hit or miss.
func (r *ExpvarMetricsRecorder) CacheLookup(service string, hit bool) {
	r.mu.Lock()
	bump(r.cache, service, lookupLabel(hit))
	r.mu.Unlock()
}

// KeyDecodeFailed counts a quarantined stored value.
func (r *ExpvarMetricsRecorder) KeyDecodeFailed(schema, _, _ string, _ error) {
	r.mu.Lock()
	r.decode[schema]++
	r.mu.Unlock()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func lookupLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// PrometheusMetricsRecorder exports backend operation latency, cache
// effectiveness and key decode failures as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	decode    *prometheus.CounterVec
}

var (
	_ MetricsRecorder    = (*PrometheusMetricsRecorder)(nil)
	_ CacheRecorder      = (*PrometheusMetricsRecorder)(nil)
	_ translate.Reporter = (*PrometheusMetricsRecorder)(nil)
)

// NewPrometheusMetricsRecorder creates the collectors and registers them on
// reg. A nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modstore",
			Name:      "backend_operation_duration_seconds",
			Help:      "Latency of storage backend operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modstore",
			Name:      "backend_operations_total",
			Help:      "Storage backend operations by outcome.",
		}, []string{"operation", "result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modstore",
			Name:      "cache_lookups_total",
			Help:      "Record lookups by service and whether the cache served them.",
		}, []string{"service", "result"}),
		decode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modstore",
			Name:      "key_decode_failures_total",
			Help:      "Stored values that no longer decode against their declared key.",
		}, []string{"schema"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.results, r.lookups, r.decode} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records a backend operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, resultLabel(success)).Inc()
}

// CacheLookup records a cache hit or miss.
func (r *PrometheusMetricsRecorder) CacheLookup(service string, hit bool) {
	r.lookups.WithLabelValues(service, lookupLabel(hit)).Inc()
}

// KeyDecodeFailed counts a quarantined stored value.
func (r *PrometheusMetricsRecorder) KeyDecodeFailed(schema, _, _ string, _ error) {
	r.decode.WithLabelValues(schema).Inc()
}
