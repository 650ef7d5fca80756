// Package market implements the Market Registry (spec.md §2 component B,
// §3): symbol metadata, leverage tiers, and administrative lifecycle state.
// It is the only writer of Market state; the matching engine and validator
// only ever read consistent snapshots (spec.md §5: "Reads for snapshots
// use a per-symbol consistent snapshot").
package market

import (
	"fmt"
	"sync"
	"time"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
)

// LeverageTier is one band of the ordered tier table spec.md §3 describes:
// "[(minNotional, maxNotional, maintenanceMarginRate, maxLeverage)]".
type LeverageTier struct {
	MinNotional            decimalx.Decimal
	MaxNotional            decimalx.Decimal
	MaintenanceMarginRate  decimalx.Decimal
	MaxLeverage            int
}

// Halt records a temporary suspension with a scheduled resume time
// (spec.md §3: "optional temporary Halt with resumeAt").
type Halt struct {
	ResumeAt time.Time
	Reason   string
}

// Market is the per-symbol metadata record of spec.md §3.
type Market struct {
	Symbol      common.Symbol
	BaseAsset   string
	QuoteAsset  string
	TickSize    decimalx.Decimal
	StepSize    decimalx.Decimal
	MinNotional decimalx.Decimal

	AllowedOrderTypes map[common.OrderType]bool
	MakerFeeRate      decimalx.Decimal
	TakerFeeRate      decimalx.Decimal
	MaxLeverage       int
	Tiers             []LeverageTier

	Status MarketStatusGuard
	Halt   *Halt
}

// MarketStatusGuard wraps common.MarketStatus; a distinct name avoids
// collisions with the common.Active/Suspended/Delisted constants when
// embedded by value.
type MarketStatusGuard = common.MarketStatus

// Snapshot is an immutable copy of a Market used by validator/engine reads.
// Copying (rather than returning the live *Market) keeps a shard's view
// consistent for the duration of processing one order, even if an admin
// mutates the registry concurrently (spec.md §5).
type Snapshot struct {
	Market
}

// IsTradeable reports whether new orders may be accepted right now.
// A Suspended market whose Halt.ResumeAt has elapsed is treated as
// tradeable even though an admin has not yet called Resume — the halt was
// declared temporary and its window has passed (spec.md §3: "optional
// temporary Halt with resumeAt").
func (s Snapshot) IsTradeable(now time.Time) bool {
	switch s.Status {
	case common.Active:
		return true
	case common.Suspended:
		return s.Halt != nil && !now.Before(s.Halt.ResumeAt)
	default:
		return false
	}
}

// TierFor returns the leverage tier whose [MinNotional, MaxNotional) range
// contains notional, or the last tier if notional exceeds every band.
func (s Snapshot) TierFor(notional decimalx.Decimal) (LeverageTier, bool) {
	for _, t := range s.Tiers {
		if notional.GreaterThanOrEqual(t.MinNotional) && notional.LessThan(t.MaxNotional) {
			return t, true
		}
	}
	if len(s.Tiers) > 0 {
		return s.Tiers[len(s.Tiers)-1], true
	}
	return LeverageTier{}, false
}

// MaxLeverageForNotional returns the maximum leverage allowed for an order
// of the given notional (spec.md §4.D.8).
func (s Snapshot) MaxLeverageForNotional(notional decimalx.Decimal) int {
	tier, ok := s.TierFor(notional)
	if !ok {
		return s.MaxLeverage
	}
	if tier.MaxLeverage > 0 && tier.MaxLeverage < s.MaxLeverage {
		return tier.MaxLeverage
	}
	return s.MaxLeverage
}

// AllowsOrderType reports whether the symbol's allowed-order-types set
// includes t (spec.md §4.D.2).
func (s Snapshot) AllowsOrderType(t common.OrderType) bool {
	return s.AllowedOrderTypes[t]
}

// Registry is the admin-owned, concurrency-safe store of all Markets.
type Registry struct {
	mu      sync.RWMutex
	markets map[common.Symbol]*Market
	bus     *events.Bus
}

// New creates an empty Registry publishing lifecycle events on bus.
func New(bus *events.Bus) *Registry {
	return &Registry{
		markets: make(map[common.Symbol]*Market),
		bus:     bus,
	}
}

// CreateMarket registers a new symbol. Returns an error if the symbol
// already exists; a delisted symbol stays registered, so its name cannot
// be registered again.
func (r *Registry) CreateMarket(m Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("market: symbol %s already registered", m.Symbol)
	}
	if m.AllowedOrderTypes == nil {
		m.AllowedOrderTypes = map[common.OrderType]bool{
			common.Market: true,
			common.Limit:  true,
		}
	}
	m.Status = common.Active
	copy := m
	r.markets[m.Symbol] = &copy
	r.publishStatus(m.Symbol, common.Active)
	return nil
}

// Snapshot returns a consistent copy of the named market's state.
func (r *Registry) Snapshot(symbol common.Symbol) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Market: *m}, true
}

// Symbols returns every registered symbol, for iteration by components
// like the Risk Monitor that must walk all markets.
func (r *Registry) Symbols() []common.Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Symbol, 0, len(r.markets))
	for s := range r.markets {
		out = append(out, s)
	}
	return out
}

// Suspend marks a market Suspended: no new orders are accepted, but the
// book is not otherwise touched.
func (r *Registry) Suspend(symbol common.Symbol) error {
	return r.setStatus(symbol, common.Suspended, nil)
}

// HaltUntil suspends the market with a scheduled auto-resume at resumeAt.
func (r *Registry) HaltUntil(symbol common.Symbol, resumeAt time.Time, reason string) error {
	return r.setStatus(symbol, common.Suspended, &Halt{ResumeAt: resumeAt, Reason: reason})
}

// Resume reactivates a Suspended market.
func (r *Registry) Resume(symbol common.Symbol) error {
	return r.setStatus(symbol, common.Active, nil)
}

// Delist permanently removes a market from trading (spec.md §3: "lives
// until delisted").
func (r *Registry) Delist(symbol common.Symbol) error {
	return r.setStatus(symbol, common.Delisted, nil)
}

func (r *Registry) setStatus(symbol common.Symbol, status common.MarketStatus, halt *Halt) error {
	r.mu.Lock()
	m, ok := r.markets[symbol]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("market: unknown symbol %s", symbol)
	}
	m.Status = status
	m.Halt = halt
	r.mu.Unlock()

	r.publishStatus(symbol, status)
	return nil
}

func (r *Registry) publishStatus(symbol common.Symbol, status common.MarketStatus) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.MarketStatusChanged, events.MarketStatusChangedPayload{
		Symbol: symbol,
		Status: status,
	})
}
