package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"predict_go/internal/event"
	"predict_go/internal/infra"

	"github.com/shopspring/decimal"
)

func TestSequencer_AssignsGapFreeSequence(t *testing.T) {
	m := &infra.Metrics{}
	seq := NewSequencer(10, m)

	var (
		mu   sync.Mutex
		seen []uint64
	)
	seq.Subscribe(func(ev event.Event) {
		mu.Lock()
		seen = append(seen, ev.GetSeq())
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		seq.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		seq.Publish(&event.MarketEvent{MarketID: "m-1"})
	}

	deadline := time.Now().Add(time.Second)
	for seq.LastSeq() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("expected 5 events, got %d", len(seen))
	}
	for i, s := range seen {
		if s != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, s)
		}
	}
	if got := m.Snapshot().EventsPublished; got != 5 {
		t.Errorf("expected 5 published events, got %d", got)
	}
}

func TestSequencer_DropsWhenInboxFull(t *testing.T) {
	m := &infra.Metrics{}
	seq := NewSequencer(1, m)

	seq.Publish(&event.MarketEvent{MarketID: "a"})
	seq.Publish(&event.MarketEvent{MarketID: "b"}) // inbox full, not running

	if got := m.Snapshot().EventsDropped; got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
}

func TestSequencer_SubscriberPanicIsolated(t *testing.T) {
	m := &infra.Metrics{}
	seq := NewSequencer(10, m)

	var got []string
	seq.Subscribe(func(ev event.Event) { panic("bad subscriber") })
	seq.Subscribe(func(ev event.Event) {
		got = append(got, ev.(*event.MarketEvent).MarketID)
	})

	seq.processEvent(&event.MarketEvent{MarketID: "m-1"})
	seq.processEvent(&event.MarketEvent{MarketID: "m-2"})

	if len(got) != 2 {
		t.Fatalf("second subscriber should see both events, got %v", got)
	}
	if m.Snapshot().ErrorsTotal != 2 {
		t.Errorf("expected 2 recorded errors, got %d", m.Snapshot().ErrorsTotal)
	}
}

func TestSequencer_DrainsOnShutdown(t *testing.T) {
	seq := NewSequencer(10, &infra.Metrics{})

	var count int
	seq.Subscribe(func(ev event.Event) { count++ })

	for i := 0; i < 3; i++ {
		ev := event.AcquireTradeEvent()
		ev.MarketID = "m-1"
		ev.Amount = decimal.NewFromInt(int64(i + 1))
		seq.Publish(ev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq.Run(ctx)

	if count != 3 {
		t.Errorf("expected queued events to be dispatched on shutdown, got %d", count)
	}
	if seq.LastSeq() != 3 {
		t.Errorf("expected last seq 3, got %d", seq.LastSeq())
	}
}
