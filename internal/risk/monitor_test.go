package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxex/internal/common"
	"nyxex/internal/events"
	"nyxex/internal/liquidation"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

func newTestMonitor(t *testing.T) (*Monitor, *position.Book, *wallet.Wallet, *liquidation.Queue, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	markets := market.New(bus)
	require.NoError(t, markets.CreateMarket(market.Market{
		Symbol:      "BTCUSDT",
		QuoteAsset:  "USDT",
		MinNotional: decimal.NewFromInt(1),
		Tiers: []market.LeverageTier{
			{MinNotional: decimal.Zero, MaxNotional: decimal.NewFromInt(1_000_000), MaintenanceMarginRate: decimal.NewFromFloat(0.05), MaxLeverage: 20},
		},
	}))
	pos := position.New(bus)
	w := wallet.New()
	q := liquidation.NewQueue(10)
	m := New(pos, markets, w, bus, q, decimal.NewFromFloat(0.8))
	return m, pos, w, q, bus
}

func TestOnMarkPriceEmitsMarginCallBelowBreach(t *testing.T) {
	m, pos, w, _, bus := newTestMonitor(t)
	w.Credit("trader", "USDT", decimal.NewFromInt(10))
	pos.Apply("trader", "BTCUSDT", position.FillApplication{
		Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
	}, decimal.NewFromFloat(0.05), 10, common.Cross, decimal.NewFromInt(10))

	ch, unsub := bus.Subscribe(events.MarginCall)
	defer unsub()

	m.onMarkPrice(events.MarkPriceUpdatedPayload{Symbol: "BTCUSDT", Mark: decimal.NewFromFloat(95.5)})

	select {
	case raw := <-ch:
		payload := raw.(events.MarginCallPayload)
		assert.Equal(t, common.UserID("trader"), payload.UserID)
		assert.True(t, payload.MarginRatio.GreaterThanOrEqual(decimal.NewFromFloat(0.8)))
	default:
		t.Fatal("expected a MarginCall event")
	}
}

func TestOnMarkPriceEnqueuesLiquidationOnBreach(t *testing.T) {
	m, pos, w, q, bus := newTestMonitor(t)
	w.Credit("trader", "USDT", decimal.NewFromInt(10))
	pos.Apply("trader", "BTCUSDT", position.FillApplication{
		Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
	}, decimal.NewFromFloat(0.05), 10, common.Cross, decimal.NewFromInt(10))

	ch, unsub := bus.Subscribe(events.LiquidationQueued)
	defer unsub()

	m.onMarkPrice(events.MarkPriceUpdatedPayload{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(88)})

	select {
	case <-ch:
	default:
		t.Fatal("expected a LiquidationQueued event")
	}

	req := <-q.Chan()
	assert.Equal(t, common.UserID("trader"), req.UserID)

	updated := pos.Get("trader", "BTCUSDT")
	assert.Equal(t, common.PositionClosing, updated.Status)
}

func TestOnMarkPriceIsIdempotentOnceClosing(t *testing.T) {
	m, pos, w, q, _ := newTestMonitor(t)
	w.Credit("trader", "USDT", decimal.NewFromInt(10))
	pos.Apply("trader", "BTCUSDT", position.FillApplication{
		Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
	}, decimal.NewFromFloat(0.05), 10, common.Cross, decimal.NewFromInt(10))

	m.onMarkPrice(events.MarkPriceUpdatedPayload{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(80)})
	<-q.Chan()

	// A second tick while already Closing must not enqueue again.
	m.onMarkPrice(events.MarkPriceUpdatedPayload{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(70)})

	select {
	case <-q.Chan():
		t.Fatal("expected no second enqueue for an already-Closing position")
	default:
	}
}
