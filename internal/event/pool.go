package event

import "sync"

// Trade events are the only high-frequency kind; they are pooled to keep
// allocation flat under bursts of buys and sells.
//
// Usage:
//
//	ev := AcquireTradeEvent()
//	ev.MarketID = m.ID
//	// ... publish ...
//	Release(ev) // done by the sequencer after every subscriber has run
//
// Subscribers must not retain an event after their callback returns.
var tradePool = sync.Pool{
	New: func() interface{} {
		return &TradeEvent{}
	},
}

// AcquireTradeEvent gets a TradeEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireTradeEvent() *TradeEvent {
	return tradePool.Get().(*TradeEvent)
}

// Release returns a pooled event. Other event kinds are left to the GC.
func Release(ev Event) {
	te, ok := ev.(*TradeEvent)
	if !ok || te == nil {
		return
	}
	*te = TradeEvent{}
	tradePool.Put(te)
}

// Warmup pre-allocates trade events to reduce GC pressure at startup.
func Warmup(n int) {
	evs := make([]*TradeEvent, 0, n)
	for i := 0; i < n; i++ {
		evs = append(evs, AcquireTradeEvent())
	}
	for _, ev := range evs {
		Release(ev)
	}
}
