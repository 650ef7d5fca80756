package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxex/internal/common"
)

func TestApplyOpensFlatPosition(t *testing.T) {
	b := New(nil)
	p := b.Apply("u1", "BTCUSDT", FillApplication{
		Side:  common.Buy,
		Price: decimal.NewFromInt(100),
		Qty:   decimal.NewFromInt(1),
	}, decimal.NewFromFloat(0.005), 10, common.Cross, decimal.NewFromInt(10))

	assert.Equal(t, common.Long, p.Side)
	assert.True(t, decimal.NewFromInt(1).Equal(p.Quantity))
	assert.True(t, decimal.NewFromInt(100).Equal(p.EntryPrice))
	assert.False(t, p.LiquidationPrice.IsZero())
}

func TestApplySameSideWeightedAverage(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))
	p := b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(110), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(20))

	assert.True(t, decimal.NewFromInt(2).Equal(p.Quantity))
	assert.True(t, decimal.NewFromInt(105).Equal(p.EntryPrice), "got %s", p.EntryPrice)
}

func TestApplyOppositeReducePartialRealizesPnl(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(2)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(20))
	p := b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Sell, Price: decimal.NewFromInt(110), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(20))

	require.Equal(t, common.Long, p.Side)
	assert.True(t, decimal.NewFromInt(1).Equal(p.Quantity))
	assert.True(t, decimal.NewFromInt(10).Equal(p.RealizedPnl), "got %s", p.RealizedPnl)
}

func TestApplyOppositeFlipOpensResidueOnOtherSide(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))
	p := b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Sell, Price: decimal.NewFromInt(90), Qty: decimal.NewFromInt(3)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))

	assert.Equal(t, common.Short, p.Side)
	assert.True(t, decimal.NewFromInt(2).Equal(p.Quantity))
	assert.True(t, decimal.NewFromInt(90).Equal(p.EntryPrice))
}

func TestApplyFullCloseGoesFlat(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))
	p := b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Sell, Price: decimal.NewFromInt(105), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))

	assert.Equal(t, common.Flat, p.Side)
	assert.Equal(t, common.PositionClosed, p.Status)
	assert.True(t, p.Quantity.IsZero())
}

func TestMarkClosingIsIdempotentGuard(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))

	assert.True(t, b.MarkClosing("u1", "BTCUSDT"))
	assert.False(t, b.MarkClosing("u1", "BTCUSDT"), "already closing, second call must not re-fire")
}

func TestForSymbolAndForUserFilters(t *testing.T) {
	b := New(nil)
	b.Apply("u1", "BTCUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))
	b.Apply("u2", "BTCUSDT", FillApplication{Side: common.Sell, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(10))
	b.Apply("u1", "ETHUSDT", FillApplication{Side: common.Buy, Price: decimal.NewFromInt(10), Qty: decimal.NewFromInt(1)}, decimal.Zero, 10, common.Cross, decimal.NewFromInt(1))

	assert.Len(t, b.ForSymbol("BTCUSDT"), 2)
	assert.Len(t, b.ForUser("u1", nil), 2)

	sym := common.Symbol("ETHUSDT")
	assert.Len(t, b.ForUser("u1", &sym), 1)
}
