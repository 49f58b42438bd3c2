package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()
	r.TaskAdmitted("O1", 0)
	r.TaskAdmitted("O1", 0)
	r.TaskAdmitted("O1", 1)
	r.TaskFinished("cpu")
	r.BurstExecuted("io", 1)
	r.Rotated(0)
	r.ObserveRequest("O1", 0, 3*time.Microsecond, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.admitted.WithLabelValues("O1", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.admitted.WithLabelValues("O1", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finished.WithLabelValues("cpu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bursts.WithLabelValues("io", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rotations.WithLabelValues("0")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.queued.WithLabelValues("0")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.TaskAdmitted("On", 0)
		r.TaskFinished("io")
		r.BurstExecuted("cpu", 0)
		r.Rotated(0)
		r.ObserveRequest("On", 0, time.Millisecond, 1)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.TaskFinished("io")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `sched_sim_tasks_finished_total{where="io"} 1`))
}
