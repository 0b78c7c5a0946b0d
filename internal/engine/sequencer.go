package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"predict_go/internal/event"
	"predict_go/internal/infra"
)

// Subscriber receives every sequenced event. It runs on the sequencer
// goroutine, must not block and must not keep ev after returning.
type Subscriber func(ev event.Event)

// Sequencer is the single-threaded event dispatcher behind the ledger.
// Services publish after commit; the sequencer stamps a gap-free sequence
// number and fans the event out to subscribers in order.
type Sequencer struct {
	inbox   chan event.Event
	nextSeq uint64
	lastSeq atomic.Uint64
	metrics *infra.Metrics

	mu   sync.RWMutex // guards subs
	subs []Subscriber
}

// NewSequencer creates a sequencer with a bounded inbox.
func NewSequencer(inboxSize int, metrics *infra.Metrics) *Sequencer {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Sequencer{
		inbox:   make(chan event.Event, inboxSize),
		nextSeq: 1,
		metrics: metrics,
	}
}

// Subscribe registers fn for every subsequent event.
func (s *Sequencer) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Publish enqueues ev without blocking. When the inbox is full the event is
// dropped and counted; the ledger transaction it describes is already committed.
func (s *Sequencer) Publish(ev event.Event) {
	select {
	case s.inbox <- ev:
	default:
		s.metrics.RecordDroppedEvent()
		slog.Warn("Event inbox full, dropping event", slog.String("type", string(ev.GetType())))
		event.Release(ev)
	}
}

// LastSeq returns the sequence number of the last dispatched event.
func (s *Sequencer) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Run starts the main event loop. This MUST be run in a single goroutine.
// On cancellation, events already queued are dispatched before returning.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started")

	for {
		select {
		case <-ctx.Done():
			s.drain()
			slog.Info("Sequencer stopping...", slog.Uint64("last_seq", s.LastSeq()))
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

func (s *Sequencer) drain() {
	for {
		select {
		case ev := <-s.inbox:
			s.processEvent(ev)
		default:
			return
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	ev.SetSeq(s.nextSeq)
	s.nextSeq++

	s.mu.RLock()
	subs := s.subs
	s.mu.RUnlock()

	for _, fn := range subs {
		s.dispatch(fn, ev)
	}

	s.lastSeq.Store(ev.GetSeq())
	s.metrics.RecordEvent()
	event.Release(ev)
}

// dispatch isolates subscriber panics so one faulty consumer cannot halt the feed.
func (s *Sequencer) dispatch(fn Subscriber, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError()
			slog.Error("SUBSCRIBER_PANIC",
				slog.Any("panic", r),
				slog.Uint64("seq", ev.GetSeq()),
				slog.String("type", string(ev.GetType())))
		}
	}()
	fn(ev)
}
