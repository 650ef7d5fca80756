package metrics

import (
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	"nyxex/internal/events"
)

// Collector subscribes to the event bus and keeps the package-level
// metrics current. Grounded on internal/risk.Monitor's
// subscribe-under-a-tomb shape.
type Collector struct {
	bus *events.Bus
}

// NewCollector returns a Collector for bus. Call Start to begin updating
// metrics.
func NewCollector(bus *events.Bus) *Collector {
	return &Collector{bus: bus}
}

// Start launches the collector's event loop under t.
func (c *Collector) Start(t *tomb.Tomb) {
	t.Go(c.run(t))
}

func (c *Collector) run(t *tomb.Tomb) func() error {
	return func() error {
		filledCh, unsubFilled := c.bus.Subscribe(events.OrderFilled)
		rejectedCh, unsubRejected := c.bus.Subscribe(events.OrderRejected)
		cancelledCh, unsubCancelled := c.bus.Subscribe(events.OrderCancelled)
		tradeCh, unsubTrade := c.bus.Subscribe(events.TradeExecuted)
		liqCh, unsubLiq := c.bus.Subscribe(events.Liquidated)
		marginCallCh, unsubMarginCall := c.bus.Subscribe(events.MarginCall)
		markCh, unsubMark := c.bus.Subscribe(events.MarkPriceUpdated)
		defer unsubFilled()
		defer unsubRejected()
		defer unsubCancelled()
		defer unsubTrade()
		defer unsubLiq()
		defer unsubMarginCall()
		defer unsubMark()

		for {
			select {
			case <-t.Dying():
				return nil
			case raw := <-filledCh:
				if p, ok := raw.(events.OrderFilledPayload); ok && p.Order.Status.IsTerminal() {
					OrdersTotal.WithLabelValues(string(p.Order.Symbol), p.Order.Side.String(), p.Order.Status.String()).Inc()
				}
			case raw := <-rejectedCh:
				if p, ok := raw.(events.OrderRejectedPayload); ok {
					OrdersTotal.WithLabelValues(string(p.Symbol), "", common.Rejected.String()).Inc()
				}
			case raw := <-cancelledCh:
				if p, ok := raw.(events.OrderCancelledPayload); ok {
					OrdersTotal.WithLabelValues(string(p.Symbol), "", common.Cancelled.String()).Inc()
				}
			case raw := <-tradeCh:
				if p, ok := raw.(events.TradePayload); ok {
					TradesTotal.WithLabelValues(string(p.Trade.Symbol)).Inc()
				}
			case raw := <-liqCh:
				if p, ok := raw.(events.LiquidatedPayload); ok {
					reason := "margin_breach"
					if p.ADLApplied {
						reason = "adl"
					}
					LiquidationsTotal.WithLabelValues(string(p.Symbol), reason).Inc()
				}
			case raw := <-marginCallCh:
				if p, ok := raw.(events.MarginCallPayload); ok {
					MarginCallsTotal.WithLabelValues(string(p.Symbol)).Inc()
				}
			case raw := <-markCh:
				if p, ok := raw.(events.MarkPriceUpdatedPayload); ok {
					bid, _ := p.Bid.Float64()
					ask, _ := p.Ask.Float64()
					BestBid.WithLabelValues(string(p.Symbol)).Set(bid)
					BestAsk.WithLabelValues(string(p.Symbol)).Set(ask)
				}
			}
		}
	}
}

// SetInsuranceFund records the current insurance fund balance.
func SetInsuranceFund(quote float64) {
	InsuranceFundQuote.Set(quote)
}
