package engine

import (
	"context"
	"testing"

	"predict_go/internal/event"
	"predict_go/internal/infra"

	"github.com/shopspring/decimal"
)

// BenchmarkSequencer_ProcessEvent measures dispatch of a pooled trade event
// to a single subscriber without channel overhead.
func BenchmarkSequencer_ProcessEvent(b *testing.B) {
	seq := NewSequencer(1000, &infra.Metrics{})
	seq.Subscribe(func(ev event.Event) {})
	amount := decimal.NewFromInt(10)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev := event.AcquireTradeEvent()
		ev.MarketID = "m-1"
		ev.Amount = amount
		seq.processEvent(ev)
	}
}

// BenchmarkSequencer_FullPipeline measures end-to-end event processing.
// Note: This benchmark includes channel overhead.
func BenchmarkSequencer_FullPipeline(b *testing.B) {
	seq := NewSequencer(b.N+100, &infra.Metrics{})
	done := make(chan struct{}, 1)
	target := uint64(b.N)
	seq.Subscribe(func(ev event.Event) {
		if ev.GetSeq() == target {
			done <- struct{}{}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev := event.AcquireTradeEvent()
		ev.MarketID = "m-1"
		seq.Publish(ev)
	}
	<-done
}
