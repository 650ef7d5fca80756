// Package risk implements the Risk Monitor (spec.md §2 component I, §4.I):
// on every mark-price tick it walks the Position Book for that symbol,
// recomputes each position's margin ratio, and either enqueues a forced
// liquidation or emits an early warning. Grounded on
// 0xtitan6-polymarket-mm/internal/risk/manager.go's report-channel +
// periodic-ticker shape, generalized from a portfolio kill-switch to a
// per-position liquidation-queue producer, with the staged warning/caution
// threshold idea carried over from monjeychiang-DES-V2's RiskConfig
// (WarningThreshold/CautionThreshold).
package risk

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
	"nyxex/internal/liquidation"
	"nyxex/internal/margin"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// Monitor subscribes to MarkPriceUpdated and drives spec.md §4.I.
type Monitor struct {
	positions *position.Book
	markets   *market.Registry
	wallets   *wallet.Wallet
	bus       *events.Bus
	queue     *liquidation.Queue

	// warningRatio is the margin ratio above which a MarginCall event
	// fires even though the position is not yet breached (SPEC_FULL.md
	// §3.I supplement).
	warningRatio decimalx.Decimal

	t   *tomb.Tomb
	log zerolog.Logger
}

// New constructs a Monitor. warningRatio should be < 1 (e.g. 0.8 for an
// 80%-of-breach early warning).
func New(positions *position.Book, markets *market.Registry, wallets *wallet.Wallet, bus *events.Bus, queue *liquidation.Queue, warningRatio decimalx.Decimal) *Monitor {
	return &Monitor{
		positions:    positions,
		markets:      markets,
		wallets:      wallets,
		bus:          bus,
		queue:        queue,
		warningRatio: warningRatio,
		log:          log.With().Str("component", "risk").Logger(),
	}
}

// Start launches the monitor's event loop under t.
func (m *Monitor) Start(t *tomb.Tomb) {
	m.t = t
	t.Go(m.loop)
}

func (m *Monitor) loop() error {
	ch, unsub := m.bus.Subscribe(events.MarkPriceUpdated)
	defer unsub()

	m.log.Info().Msg("risk monitor starting")
	for {
		select {
		case <-m.t.Dying():
			m.log.Info().Msg("risk monitor stopping")
			return nil
		case raw := <-ch:
			payload, ok := raw.(events.MarkPriceUpdatedPayload)
			if !ok {
				continue
			}
			m.onMarkPrice(payload)
		}
	}
}

// onMarkPrice implements spec.md §4.I steps 1-3 for every position open on
// payload.Symbol.
func (m *Monitor) onMarkPrice(payload events.MarkPriceUpdatedPayload) {
	mkt, ok := m.markets.Snapshot(payload.Symbol)
	if !ok {
		return
	}

	for _, p := range m.positions.ForSymbol(payload.Symbol) {
		if p.Side == common.Flat || p.Status != common.PositionOpen {
			continue
		}

		tier, _ := mkt.TierFor(p.Quantity.Mul(payload.Mark))
		equity := m.equityFor(p, mkt.QuoteAsset)

		updated, ok := m.positions.UpdateMark(p.UserID, payload.Symbol, payload.Mark, tier.MaintenanceMarginRate, equity)
		if !ok {
			continue
		}

		ratio := margin.MarginRatio(margin.Input{
			Side:            updated.Side,
			Quantity:        updated.Quantity,
			EntryPrice:      updated.EntryPrice,
			MarkPrice:       payload.Mark,
			Leverage:        updated.Leverage,
			MaintenanceRate: tier.MaintenanceMarginRate,
			Equity:          equity,
			RealizedPnl:     updated.RealizedPnl,
		})

		breached := ratio.GreaterThanOrEqual(decimalx.One) || margin.IsBreached(updated.Side, payload.Mark, updated.LiquidationPrice)

		switch {
		case breached:
			m.enqueueLiquidation(updated, "margin_ratio_breach")
		case ratio.GreaterThanOrEqual(m.warningRatio):
			m.bus.Publish(events.MarginCall, events.MarginCallPayload{
				UserID: updated.UserID, Symbol: updated.Symbol, MarginRatio: ratio,
			})
		}
	}
}

func (m *Monitor) equityFor(p position.Position, quoteAsset string) decimalx.Decimal {
	if p.MarginMode == common.Isolated {
		return p.IsolatedMargin
	}
	return m.wallets.Equity(p.UserID, wallet.Asset(quoteAsset))
}

// enqueueLiquidation marks the position Closing and pushes a request onto
// the Liquidation Engine's queue. MarkClosing's idempotency guard (spec.md
// §4.I: "re-enqueuing a Closing position is a no-op") means a position
// touched by several consecutive ticks before the Liquidation Engine
// drains it is only ever enqueued once.
func (m *Monitor) enqueueLiquidation(p position.Position, reason string) {
	if !m.positions.MarkClosing(p.UserID, p.Symbol) {
		return
	}
	m.queue.Enqueue(liquidation.Request{UserID: p.UserID, Symbol: p.Symbol, Reason: reason})
	m.bus.Publish(events.LiquidationQueued, events.LiquidationQueuedPayload{
		UserID: p.UserID, Symbol: p.Symbol, Reason: reason,
	})
}
