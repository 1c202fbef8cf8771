// Package metrics exposes Prometheus instrumentation for sessions.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load sources.
const (
	SourceCache   = "cache"
	SourceStorage = "storage"
)

// Write operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Recorder holds the session collectors.
type Recorder struct {
	placeholders    *prometheus.CounterVec
	initializations *prometheus.CounterVec
	loads           *prometheus.CounterVec
	writes          *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	flushDuration   prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		placeholders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stowage",
			Name:      "placeholders_created_total",
			Help:      "Uninitialized placeholders created for association targets.",
		}, []string{"entity"}),
		initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stowage",
			Name:      "placeholder_initializations_total",
			Help:      "Placeholder initializations by outcome.",
		}, []string{"entity", "result"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stowage",
			Name:      "rows_loaded_total",
			Help:      "Rows loaded by source.",
		}, []string{"entity", "source"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stowage",
			Name:      "rows_written_total",
			Help:      "Rows written by flushes, by operation.",
		}, []string{"entity", "op"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stowage",
			Name:      "flushes_total",
			Help:      "Flushes by outcome.",
		}, []string{"result"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stowage",
			Name:      "flush_duration_seconds",
			Help:      "Flush latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return r, nil
	}
	for i, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			for _, done := range r.collectors()[:i] {
				reg.Unregister(done)
			}
			return nil, err
		}
	}
	return r, nil
}

// Unregister removes the collectors from reg so a later NewRecorder can
// register a fresh set. It is a no-op for a nil Recorder or registerer.
func (r *Recorder) Unregister(reg prometheus.Registerer) {
	if r == nil || reg == nil {
		return
	}
	for _, c := range r.collectors() {
		reg.Unregister(c)
	}
}

// MustRecorder is like NewRecorder but panics on registration errors.
func MustRecorder(reg prometheus.Registerer) *Recorder {
	r, err := NewRecorder(reg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.placeholders, r.initializations, r.loads, r.writes, r.flushes, r.flushDuration,
	}
}

// PlaceholderCreated counts a new placeholder.
func (r *Recorder) PlaceholderCreated(entity string) {
	if r == nil {
		return
	}
	r.placeholders.WithLabelValues(entity).Inc()
}

// Initialized counts a placeholder initialization attempt.
func (r *Recorder) Initialized(entity string, err error) {
	if r == nil {
		return
	}
	r.initializations.WithLabelValues(entity, result(err)).Inc()
}

// Loaded counts a row read from source.
func (r *Recorder) Loaded(entity, source string) {
	if r == nil {
		return
	}
	r.loads.WithLabelValues(entity, source).Inc()
}

// Wrote counts a row written by a flush.
func (r *Recorder) Wrote(entity, op string) {
	if r == nil {
		return
	}
	r.writes.WithLabelValues(entity, op).Inc()
}

// ObserveFlush records one flush.
func (r *Recorder) ObserveFlush(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.flushes.WithLabelValues(result(err)).Inc()
	r.flushDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
