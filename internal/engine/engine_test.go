package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	"nyxex/internal/events"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

func newTestEngine(t *testing.T) (*Engine, *wallet.Wallet, *position.Book) {
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
	eng := New(tb, pos, w, markets, bus)
	eng.CreateShard("BTCUSDT")
	return eng, w, pos
}

func fund(w *wallet.Wallet, user common.UserID, amount float64) {
	w.Credit(user, "USDT", decimal.NewFromFloat(amount))
}

func restingLimit(eng *Engine, user common.UserID, side common.Side, price, qty float64) Outcome {
	sh, _ := eng.Shard("BTCUSDT")
	return sh.Submit(Submission{
		Order: common.Order{
			UserID: user, Symbol: "BTCUSDT", Side: side, Type: common.Limit,
			Quantity: decimal.NewFromFloat(qty), Price: decimal.NewFromFloat(price),
			TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})
}

func TestScenario1SimpleCross(t *testing.T) {
	eng, w, pos := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	restingLimit(eng, "maker", common.Sell, 100, 1.0)

	sh, _ := eng.Shard("BTCUSDT")
	out := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Market,
			Quantity: decimal.NewFromFloat(1.0), TimeInForce: common.IOC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	require.Len(t, out.Trades, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(out.Trades[0].Price))
	assert.True(t, decimal.NewFromFloat(1.0).Equal(out.Trades[0].Quantity))
	assert.Equal(t, common.Filled, out.Order.Status)
	assert.False(t, sh.book.Contains(out.Trades[0].MakerID))

	p := pos.Get("taker", "BTCUSDT")
	assert.Equal(t, common.Long, p.Side)
	assert.True(t, decimal.NewFromFloat(1.0).Equal(p.Quantity))
	assert.True(t, decimal.NewFromInt(100).Equal(p.EntryPrice))
}

func TestScenario2PartialFillThenRest(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "buyer", 10000)
	fund(w, "seller", 10000)

	buyOut := restingLimit(eng, "buyer", common.Buy, 100, 2.0)
	require.Equal(t, common.Open, buyOut.Order.Status)

	sh, _ := eng.Shard("BTCUSDT")
	sellOut := sh.Submit(Submission{
		Order: common.Order{
			UserID: "seller", Symbol: "BTCUSDT", Side: common.Sell, Type: common.Limit,
			Quantity: decimal.NewFromFloat(1.5), Price: decimal.NewFromFloat(99), TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	require.Len(t, sellOut.Trades, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(sellOut.Trades[0].Price), "maker price wins")
	assert.Equal(t, common.Filled, sellOut.Order.Status)

	resting, ok := sh.book.Peek(buyOut.Order.OrderID)
	require.True(t, ok)
	assert.True(t, decimal.NewFromFloat(0.5).Equal(resting.Remaining()))
	assert.Equal(t, common.PartiallyFilled, resting.Status)
}

func TestScenario3PriceTimePriority(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "a", 10000)
	fund(w, "b", 10000)
	fund(w, "taker", 10000)

	outA := restingLimit(eng, "a", common.Sell, 100, 1)
	outB := restingLimit(eng, "b", common.Sell, 100, 1)

	sh, _ := eng.Shard("BTCUSDT")
	out := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Market,
			Quantity: decimal.NewFromInt(1), TimeInForce: common.IOC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	require.Len(t, out.Trades, 1)
	assert.Equal(t, outA.Order.OrderID, out.Trades[0].MakerID)
	assert.NotEqual(t, outB.Order.OrderID, out.Trades[0].MakerID)
}

func TestScenario4PostOnlyRejected(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	restingLimit(eng, "maker", common.Sell, 100, 1)

	sh, _ := eng.Shard("BTCUSDT")
	out := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Limit,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
			TimeInForce: common.GTC, Flags: common.Flags{PostOnly: true},
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	assert.Equal(t, common.Rejected, out.Order.Status)
	assert.Equal(t, common.ReasonPostOnlyWouldCross, out.Order.RejectReason)
	assert.Empty(t, out.Trades)

	snap := sh.book.Snapshot(10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, decimal.NewFromInt(1).Equal(snap.Asks[0].Qty), "resting maker untouched")
}

func TestScenario5FOKReject(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	restingLimit(eng, "maker", common.Sell, 100, 0.5)

	sh, _ := eng.Shard("BTCUSDT")
	out := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Market,
			Quantity: decimal.NewFromFloat(1.0), TimeInForce: common.FOK,
		},
		Leverage: 10, MarginMode: common.Cross,
	})

	assert.Equal(t, common.Rejected, out.Order.Status)
	assert.Equal(t, common.ReasonFOKNotFillable, out.Order.RejectReason)
	assert.Empty(t, out.Trades)

	snap := sh.book.Snapshot(10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, decimal.NewFromFloat(0.5).Equal(snap.Asks[0].Qty), "FOK rejection leaves book untouched")
}

func TestScenario6StopOrderTriggersOnMarkPrice(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	restingLimit(eng, "maker", common.Sell, 105, 1)

	sh, _ := eng.Shard("BTCUSDT")
	stopOut := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Stop,
			Quantity: decimal.NewFromInt(1), StopPrice: decimal.NewFromInt(102),
			TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	})
	require.Empty(t, stopOut.Trades)
	assert.Equal(t, common.Pending, stopOut.Order.Status)

	// Below the trigger: stays pending, no conversion.
	sh.OnMarkPrice(decimal.NewFromInt(101))
	o, ok := sh.PeekOrder(stopOut.Order.OrderID)
	require.True(t, ok)
	assert.Equal(t, common.Stop, o.Type)
	assert.Equal(t, common.Pending, o.Status)

	// At/above the trigger: converts to Market and matches the resting ask.
	sh.OnMarkPrice(decimal.NewFromInt(102))
	_, stillPending := sh.PeekOrder(stopOut.Order.OrderID)
	assert.False(t, stillPending, "triggered order left the conditional set and the book")

	snap := sh.book.Snapshot(10)
	assert.Empty(t, snap.Asks, "triggered stop filled against the resting maker")
}

func TestScenario7TrailingStopActivatesAndTriggers(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	// Long position protected by a Sell trailing stop: arms once price
	// rises to 110, then fires if price falls back by the callback rate
	// from its high-water mark (spec.md §4.F.7).
	restingLimit(eng, "maker", common.Buy, 95, 1)

	sh, _ := eng.Shard("BTCUSDT")
	trailOut := sh.Submit(Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Sell, Type: common.TrailingStop,
			Quantity:    decimal.NewFromInt(1),
			TimeInForce: common.GTC,
			Trailing: &common.TrailingConfig{
				ActivationPrice: decimal.NewFromInt(110),
				CallbackRate:    decimal.NewFromFloat(0.05),
			},
		},
		Leverage: 10, MarginMode: common.Cross,
	})
	require.Equal(t, common.Pending, trailOut.Order.Status)
	id := trailOut.Order.OrderID

	// Not yet activated: a tick below the activation price does nothing.
	sh.OnMarkPrice(decimal.NewFromInt(108))
	o, ok := sh.PeekOrder(id)
	require.True(t, ok)
	assert.False(t, o.Trailing.Activated)

	// Crossing the activation price arms the stop and seeds the HWM.
	sh.OnMarkPrice(decimal.NewFromInt(111))
	o, ok = sh.PeekOrder(id)
	require.True(t, ok)
	assert.True(t, o.Trailing.Activated)
	assert.True(t, decimal.NewFromInt(111).Equal(o.Trailing.HighWaterMark))

	// Price keeps rising: HWM tracks it upward.
	sh.OnMarkPrice(decimal.NewFromInt(120))
	o, ok = sh.PeekOrder(id)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(120).Equal(o.Trailing.HighWaterMark))

	// Pullback of 5% from the 120 HWM (114) fires the stop and matches the
	// resting maker bid.
	sh.OnMarkPrice(decimal.NewFromInt(114))
	_, stillPending := sh.PeekOrder(id)
	assert.False(t, stillPending, "trailing stop triggered and left the conditional set")

	snap := sh.book.Snapshot(10)
	assert.Empty(t, snap.Bids, "triggered trailing stop filled against the resting maker bid")
}

func TestScenario8OCOFillCancelsOtherLeg(t *testing.T) {
	eng, w, _ := newTestEngine(t)
	fund(w, "maker", 10000)
	fund(w, "taker", 10000)

	restingLimit(eng, "maker", common.Sell, 100, 1)

	sh, _ := eng.Shard("BTCUSDT")
	takeProfitLeg := Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Buy, Type: common.Limit,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
			TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	}
	stopLossLeg := Submission{
		Order: common.Order{
			UserID: "taker", Symbol: "BTCUSDT", Side: common.Sell, Type: common.Stop,
			Quantity: decimal.NewFromInt(1), StopPrice: decimal.NewFromInt(90),
			TimeInForce: common.GTC,
		},
		Leverage: 10, MarginMode: common.Cross,
	}

	pair := sh.SubmitOCO(takeProfitLeg, stopLossLeg)

	require.Len(t, pair.A.Trades, 1, "the Limit leg crosses the resting maker ask immediately")
	assert.Equal(t, common.Filled, pair.A.Order.Status)
	assert.Equal(t, common.Pending, pair.B.Order.Status, "the Stop leg was only registered, not yet triggered")

	_, stillPending := sh.PeekOrder(pair.B.Order.OrderID)
	assert.False(t, stillPending, "filling the Limit leg cancels the linked Stop leg")
}
