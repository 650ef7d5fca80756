// Package feed implements the Price Feed Ingress (spec.md §2 component C,
// SPEC_FULL.md §3.C): the single entry point external market-data adapters
// call to report a symbol's latest bid/ask/mark. Grounded on the teacher's
// net package for the "adapter hands the core a tick, core validates and
// fans it out" shape, generalized with a mutex-guarded latest-price
// map the way 0xtitan6-polymarket-mm's strategy loop keeps a rolling
// priceAnchor per market.
package feed

import (
	"fmt"
	"sync"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
)

// Tick is one symbol's price update.
type Tick struct {
	Symbol common.Symbol
	Bid    decimalx.Decimal
	Ask    decimalx.Decimal
	Mark   decimalx.Decimal
	Ts     int64 // adapter-supplied monotonic timestamp, e.g. unix nanos
}

// Ingress validates and republishes ticks from market-data adapters.
type Ingress struct {
	mu     sync.Mutex
	latest map[common.Symbol]Tick
	bus    *events.Bus
}

// New creates an Ingress publishing accepted ticks on bus.
func New(bus *events.Bus) *Ingress {
	return &Ingress{latest: make(map[common.Symbol]Tick), bus: bus}
}

// OnTick validates t against the last accepted tick for its symbol and, if
// accepted, updates the latest-price table and publishes MarkPriceUpdated
// (spec.md §4.I, §4.F.5,7). A tick whose Ts is not newer than the last
// accepted one is not applied or published and OnTick returns an error;
// the latest-price table is left unchanged, so a later, fresher tick is
// still accepted (spec.md §7).
func (f *Ingress) OnTick(t Tick) error {
	f.mu.Lock()
	prev, ok := f.latest[t.Symbol]
	if ok && t.Ts <= prev.Ts {
		f.mu.Unlock()
		return fmt.Errorf("feed: stale tick for %s: ts %d <= last %d", t.Symbol, t.Ts, prev.Ts)
	}
	f.latest[t.Symbol] = t
	f.mu.Unlock()

	f.bus.Publish(events.MarkPriceUpdated, events.MarkPriceUpdatedPayload{
		Symbol: t.Symbol,
		Bid:    t.Bid,
		Ask:    t.Ask,
		Mark:   t.Mark,
		Ts:     t.Ts,
	})
	return nil
}

// Latest returns the most recently accepted tick for symbol, if any.
func (f *Ingress) Latest(symbol common.Symbol) (Tick, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.latest[symbol]
	return t, ok
}
