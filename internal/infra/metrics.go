package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	tradesExecuted   atomic.Uint64
	payoutsMade      atomic.Uint64
	marketsFinalized atomic.Uint64
	disputesOpened   atomic.Uint64
	disputesResolved atomic.Uint64
	eventsPublished  atomic.Uint64
	eventsDropped    atomic.Uint64
	schedulerTicks   atomic.Uint64
	errorsTotal      atomic.Uint64

	// Latency tracking for ledger transactions
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTrade records a committed buy or sell with its transaction latency.
func (m *Metrics) RecordTrade(latency time.Duration) {
	m.tradesExecuted.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordFinalize records a finalized market and the number of payouts made.
func (m *Metrics) RecordFinalize(payouts int) {
	m.marketsFinalized.Add(1)
	m.payoutsMade.Add(uint64(payouts))
}

// RecordDisputeOpened records a new dispute.
func (m *Metrics) RecordDisputeOpened() {
	m.disputesOpened.Add(1)
}

// RecordDisputeResolved records a resolved dispute.
func (m *Metrics) RecordDisputeResolved() {
	m.disputesResolved.Add(1)
}

// RecordEvent records an event handed to subscribers.
func (m *Metrics) RecordEvent() {
	m.eventsPublished.Add(1)
}

// RecordDroppedEvent records an event discarded because the inbox was full.
func (m *Metrics) RecordDroppedEvent() {
	m.eventsDropped.Add(1)
}

// RecordTick records one scheduler pass.
func (m *Metrics) RecordTick() {
	m.schedulerTicks.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments feed connections by 1.
func (m *Metrics) IncrementConnections() {
	m.feedConnections.Add(1)
}

// DecrementConnections decrements feed connections by 1.
func (m *Metrics) DecrementConnections() {
	m.feedConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TradesExecuted   uint64    `json:"trades_executed"`
	PayoutsMade      uint64    `json:"payouts_made"`
	MarketsFinalized uint64    `json:"markets_finalized"`
	DisputesOpened   uint64    `json:"disputes_opened"`
	DisputesResolved uint64    `json:"disputes_resolved"`
	EventsPublished  uint64    `json:"events_published"`
	EventsDropped    uint64    `json:"events_dropped"`
	SchedulerTicks   uint64    `json:"scheduler_ticks"`
	ErrorsTotal      uint64    `json:"errors_total"`
	AvgLatencyNs     int64     `json:"avg_latency_ns"`
	FeedConnections  int32     `json:"feed_connections"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TradesExecuted:   m.tradesExecuted.Load(),
		PayoutsMade:      m.payoutsMade.Load(),
		MarketsFinalized: m.marketsFinalized.Load(),
		DisputesOpened:   m.disputesOpened.Load(),
		DisputesResolved: m.disputesResolved.Load(),
		EventsPublished:  m.eventsPublished.Load(),
		EventsDropped:    m.eventsDropped.Load(),
		SchedulerTicks:   m.schedulerTicks.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		AvgLatencyNs:     avgLatency,
		FeedConnections:  m.feedConnections.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.tradesExecuted.Store(0)
	m.payoutsMade.Store(0)
	m.marketsFinalized.Store(0)
	m.disputesOpened.Store(0)
	m.disputesResolved.Store(0)
	m.eventsPublished.Store(0)
	m.eventsDropped.Store(0)
	m.schedulerTicks.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedConnections.Store(0)
}
