// Package metrics provides runtime statistics for the classification service.
package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full service statistics at a point in time.
type Snapshot struct {
	UptimeSeconds  float64            `json:"uptime_seconds"`
	ReasonerSubmit *OperationSnapshot `json:"reasoner_submit,omitempty"`
	ReasonerStatus *OperationSnapshot `json:"reasoner_status,omitempty"`
	DeltaExport    *OperationSnapshot `json:"delta_export,omitempty"`
	Ingest         *OperationSnapshot `json:"ingest,omitempty"`
	SemanticCheck  *OperationSnapshot `json:"semantic_check,omitempty"`
	Save           *OperationSnapshot `json:"save,omitempty"`
}

// Operation names for the collector.
const (
	OpReasonerSubmit = "reasoner_submit"
	OpReasonerStatus = "reasoner_status"
	OpDeltaExport    = "delta_export"
	OpIngest         = "ingest"
	OpSemanticCheck  = "semantic_check"
	OpSave           = "save"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Failures++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		ReasonerSubmit: snapshotOp(c.ops[OpReasonerSubmit]),
		ReasonerStatus: snapshotOp(c.ops[OpReasonerStatus]),
		DeltaExport:    snapshotOp(c.ops[OpDeltaExport]),
		Ingest:         snapshotOp(c.ops[OpIngest]),
		SemanticCheck:  snapshotOp(c.ops[OpSemanticCheck]),
		Save:           snapshotOp(c.ops[OpSave]),
	}
}

// StatsHandler serves the current snapshot as JSON.
func (c *Collector) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
