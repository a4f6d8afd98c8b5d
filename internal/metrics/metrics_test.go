package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpIngest, 10*time.Millisecond, nil)
	c.RecordTiming(OpIngest, 30*time.Millisecond, errors.New("boom"))

	snap := c.Snapshot()
	require.NotNil(t, snap.Ingest)
	assert.Equal(t, int64(2), snap.Ingest.Count)
	assert.Equal(t, int64(1), snap.Ingest.Failures)
	assert.Equal(t, int64(10), snap.Ingest.MinTimeMs)
	assert.Equal(t, int64(30), snap.Ingest.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Ingest.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Save, "operations without data are nil")
}

func TestStatsHandlerServesSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpSave, 40*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.StatsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Save)
	assert.Equal(t, int64(1), snap.Save.Count)
	assert.Equal(t, int64(40), snap.Save.MaxTimeMs)
	assert.Nil(t, snap.Ingest)
	assert.NotContains(t, rec.Body.String(), "ingest")
}

func TestMetricsRecordsToPrometheus(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordTransition("COMPLETED")
	m.RecordTransition("COMPLETED")
	m.RecordTransition("FAILED")
	m.SetInProgress(3)
	m.RecordCoolOff()
	m.RecordTiming(OpReasonerStatus, time.Millisecond, errors.New("unreachable"))

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("COMPLETED")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("FAILED")), 0.001)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.InProgress), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.CoolOffs), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues(OpReasonerStatus)), 0.001)
	assert.Equal(t, int64(1), m.Snapshot().ReasonerStatus.Count)
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}

func TestHandlerServesMetrics(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordTransition("SAVED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `classification_status_transitions_total{status="SAVED"} 1`)
}
