package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunMetrics aggregates per-run execution counters
type RunMetrics struct {
	TotalNodes         int
	SucceededNodes     int
	FailedNodes        int
	SkippedNodes       int
	TimedOutNodes      int
	ProcessingNodes    int
	StartTime          time.Time
	EndTime            time.Time
	ExecutionDuration  time.Duration
	NodeExecutionTimes map[string]time.Duration
	mu                 sync.RWMutex
}

// NewRunMetrics creates a metrics instance for a run of totalNodes nodes
func NewRunMetrics(totalNodes int, start time.Time) *RunMetrics {
	return &RunMetrics{
		TotalNodes:         totalNodes,
		StartTime:          start,
		NodeExecutionTimes: make(map[string]time.Duration),
	}
}

// RecordNodeStart records when a node starts processing
func (m *RunMetrics) RecordNodeStart(nodeRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessingNodes++
}

// RecordNodeSuccess records a node that completed successfully
func (m *RunMetrics) RecordNodeSuccess(nodeRef string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProcessingNodes--
	m.SucceededNodes++
	m.NodeExecutionTimes[nodeRef] = duration
}

// RecordNodeFailed records a failed node; timedOut marks failures caused by the node deadline
func (m *RunMetrics) RecordNodeFailed(nodeRef string, duration time.Duration, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProcessingNodes--
	m.FailedNodes++
	if timedOut {
		m.TimedOutNodes++
	}
	m.NodeExecutionTimes[nodeRef] = duration
}

// RecordNodeSkipped records a node that was never reached
func (m *RunMetrics) RecordNodeSkipped(nodeRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedNodes++
}

// Finish marks the run as finished
func (m *RunMetrics) Finish(end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EndTime = end
	m.ExecutionDuration = end.Sub(m.StartTime)
}

// Snapshot returns a copy of the current metrics
func (m *RunMetrics) Snapshot() RunMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := RunMetrics{
		TotalNodes:         m.TotalNodes,
		SucceededNodes:     m.SucceededNodes,
		FailedNodes:        m.FailedNodes,
		SkippedNodes:       m.SkippedNodes,
		TimedOutNodes:      m.TimedOutNodes,
		ProcessingNodes:    m.ProcessingNodes,
		StartTime:          m.StartTime,
		EndTime:            m.EndTime,
		ExecutionDuration:  m.ExecutionDuration,
		NodeExecutionTimes: make(map[string]time.Duration, len(m.NodeExecutionTimes)),
	}
	for k, v := range m.NodeExecutionTimes {
		snapshot.NodeExecutionTimes[k] = v
	}
	return snapshot
}

// LogMetrics logs the current metrics at the given level
func (m *RunMetrics) LogMetrics(logger *zap.Logger, runID int64, level string) {
	fields := []zap.Field{
		zap.Int64("runID", runID),
		zap.Int("totalNodes", m.TotalNodes),
		zap.Int("succeeded", m.SucceededNodes),
		zap.Int("failed", m.FailedNodes),
		zap.Int("skipped", m.SkippedNodes),
		zap.Int("timedOut", m.TimedOutNodes),
		zap.Float64("completionPercent", m.CompletionPercentage()),
		zap.Duration("averageNodeTime", m.AverageExecutionTime()),
		zap.Duration("executionDuration", m.Snapshot().ExecutionDuration),
	}

	switch level {
	case "error":
		logger.Error("Run execution metrics", fields...)
	case "warn":
		logger.Warn("Run execution metrics", fields...)
	case "debug":
		logger.Debug("Run execution metrics", fields...)
	default:
		logger.Info("Run execution metrics", fields...)
	}
}

// CompletionPercentage returns the share of nodes that reached a terminal status
func (m *RunMetrics) CompletionPercentage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.TotalNodes == 0 {
		return 100.0
	}
	done := m.SucceededNodes + m.FailedNodes + m.SkippedNodes
	return float64(done) / float64(m.TotalNodes) * 100.0
}

// AverageExecutionTime returns the mean duration of executed nodes
func (m *RunMetrics) AverageExecutionTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.NodeExecutionTimes) == 0 {
		return 0
	}

	var total time.Duration
	for _, duration := range m.NodeExecutionTimes {
		total += duration
	}
	return total / time.Duration(len(m.NodeExecutionTimes))
}

// IsComplete reports whether every node reached a terminal status
func (m *RunMetrics) IsComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SucceededNodes+m.FailedNodes+m.SkippedNodes >= m.TotalNodes
}
