package liquidation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	engineutil "nyxex/internal/engine"
	"nyxex/internal/events"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

func newTestRig(t *testing.T) (*Engine, *engineutil.Engine, *position.Book, *wallet.Wallet, *tomb.Tomb) {
	t.Helper()
	tb, _ := tomb.WithContext(context.Background())
	bus := events.NewBus()
	markets := market.New(bus)
	require.NoError(t, markets.CreateMarket(market.Market{
		Symbol:       "BTCUSDT",
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		TickSize:     decimal.NewFromFloat(0.01),
		StepSize:     decimal.NewFromFloat(0.0001),
		MinNotional:  decimal.NewFromInt(1),
		MakerFeeRate: decimal.Zero,
		TakerFeeRate: decimal.Zero,
		MaxLeverage:  20,
	}))
	w := wallet.New()
	pos := position.New(bus)
	eng := engineutil.New(tb, pos, w, markets, bus)
	eng.CreateShard("BTCUSDT")

	queue := NewQueue(10)
	fund := wallet.NewInsuranceFund(decimal.Zero)
	le := New(queue, pos, w, markets, eng, fund, bus, 3)
	le.Start(tb)

	return le, eng, pos, w, tb
}

func TestProcessClosesLongPositionAgainstRestingBuy(t *testing.T) {
	le, eng, pos, w, _ := newTestRig(t)
	w.Credit("trader", "USDT", decimal.NewFromInt(1000))
	w.Credit("counterparty", "USDT", decimal.NewFromInt(1000))

	pos.Apply("trader", "BTCUSDT", position.FillApplication{
		Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
	}, decimal.NewFromFloat(0.05), 10, common.Cross, decimal.NewFromInt(10))

	sh, _ := eng.Shard("BTCUSDT")
	sh.Submit(engineutil.Submission{
		Order: common.Order{
			UserID: "counterparty", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Limit,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(90), TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	le.process(Request{UserID: "trader", Symbol: "BTCUSDT", Reason: "margin_ratio_breach"})

	after := pos.Get("trader", "BTCUSDT")
	assert.Equal(t, common.PositionLiquidated, after.Status)
	assert.Equal(t, common.Flat, after.Side)
}

func TestProcessIsNoOpWhenPositionAlreadyFlat(t *testing.T) {
	le, _, pos, _, _ := newTestRig(t)
	before := pos.Get("ghost", "BTCUSDT")
	require.Equal(t, common.Flat, before.Side)

	le.process(Request{UserID: "ghost", Symbol: "BTCUSDT"})

	after := pos.Get("ghost", "BTCUSDT")
	assert.Equal(t, before, after)
}

func TestInsuranceFundDrawDownCoversPartialShortfall(t *testing.T) {
	f := wallet.NewInsuranceFund(decimal.NewFromInt(5))

	covered, full := f.DrawDown(decimal.NewFromInt(8))
	assert.False(t, full)
	assert.True(t, decimal.NewFromInt(5).Equal(covered))
	assert.True(t, f.Balance().IsZero())
}
