package relay

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of the relay counters.
type MetricsSnapshot struct {
	ActiveSessions    int64
	Published         int64
	FannedOut         int64
	DroppedNoSession  int64
	MalformedPayloads int64
}

// Metrics tracks relay activity with atomic counters.
type Metrics struct {
	activeSessions    atomic.Int64
	published         atomic.Int64
	fannedOut         atomic.Int64
	droppedNoSession  atomic.Int64
	malformedPayloads atomic.Int64
}

// NewMetrics returns zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordSession(delta int) {
	m.activeSessions.Add(int64(delta))
}

func (m *Metrics) RecordPublished(delta int) {
	m.published.Add(int64(delta))
}

func (m *Metrics) RecordFannedOut(delta int) {
	m.fannedOut.Add(int64(delta))
}

func (m *Metrics) RecordDroppedNoSession(delta int) {
	m.droppedNoSession.Add(int64(delta))
}

func (m *Metrics) RecordMalformedPayload(delta int) {
	m.malformedPayloads.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ActiveSessions:    m.activeSessions.Load(),
		Published:         m.published.Load(),
		FannedOut:         m.fannedOut.Load(),
		DroppedNoSession:  m.droppedNoSession.Load(),
		MalformedPayloads: m.malformedPayloads.Load(),
	}
}
