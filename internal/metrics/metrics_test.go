package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.PlaceholderCreated("Child")
	r.PlaceholderCreated("Child")
	r.Initialized("Child", nil)
	r.Initialized("Child", errors.New("boom"))
	r.Loaded("Parent", SourceCache)
	r.Loaded("Parent", SourceStorage)
	r.Loaded("Parent", SourceStorage)
	r.Wrote("Parent", OpUpdate)
	r.ObserveFlush(5*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.placeholders.WithLabelValues("Child")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.initializations.WithLabelValues("Child", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.initializations.WithLabelValues("Child", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("Parent", SourceCache)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.loads.WithLabelValues("Parent", SourceStorage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("Parent", OpUpdate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.flushes.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.flushDuration))
}

func TestRecorderDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustRecorder(reg) })
}

func TestRecorderUnregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.Unregister(reg)
	again, err := NewRecorder(reg)
	require.NoError(t, err)
	again.Wrote("Parent", OpUpdate)
	n, err := testutil.GatherAndCount(reg, "stowage_rows_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var none *Recorder
	assert.NotPanics(t, func() { none.Unregister(reg) })
	assert.NotPanics(t, func() { again.Unregister(nil) })
}

func TestRecorderPartialRegistrationRollsBack(t *testing.T) {
	reg := prometheus.NewRegistry()
	clash := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stowage",
		Name:      "rows_written_total",
		Help:      "Conflicting collector.",
	}, []string{"entity", "op"})
	require.NoError(t, reg.Register(clash))

	_, err := NewRecorder(reg)
	require.Error(t, err)

	reg.Unregister(clash)
	_, err = NewRecorder(reg)
	assert.NoError(t, err, "collectors registered before the clash must be released")
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.PlaceholderCreated("Child")
		r.Initialized("Child", nil)
		r.Loaded("Child", SourceStorage)
		r.Wrote("Child", OpInsert)
		r.ObserveFlush(time.Second, errors.New("x"))
	})
}
