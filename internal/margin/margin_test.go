package margin

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"nyxex/internal/common"
)

func TestLiquidationScenarioFromSpec(t *testing.T) {
	// Long 1 BTC entry 100, leverage 10, maintenance 0.5%.
	// spec.md §8 scenario 6 expects liquidation once mark reaches ~90.6.
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	rate := decimal.NewFromFloat(0.005)

	lp := LiquidationPrice(common.Long, entry, 10, rate, qty, decimal.Zero)
	// E*(1 - 1/10 + 0.005) = 100*0.905 = 90.5
	assert.True(t, decimal.NewFromFloat(90.5).Equal(lp), "got %s", lp)

	assert.True(t, IsBreached(common.Long, decimal.NewFromFloat(90.4), lp))
	assert.False(t, IsBreached(common.Long, decimal.NewFromFloat(91), lp))
}

func TestMarginRatioBreachAtOne(t *testing.T) {
	in := Input{
		Side:            common.Long,
		Quantity:        decimal.NewFromInt(1),
		EntryPrice:      decimal.NewFromInt(100),
		MarkPrice:       decimal.NewFromFloat(90.5),
		Leverage:        10,
		MaintenanceRate: decimal.NewFromFloat(0.005),
		Equity:          decimal.NewFromInt(10), // initial margin
	}
	ratio := MarginRatio(in)
	assert.True(t, ratio.GreaterThanOrEqual(decimal.NewFromInt(1)), "ratio=%s", ratio)
}

func TestUnrealizedPnLSignConvention(t *testing.T) {
	longIn := Input{Side: common.Long, Quantity: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(100), MarkPrice: decimal.NewFromInt(110)}
	assert.True(t, decimal.NewFromInt(20).Equal(UnrealizedPnL(longIn)))

	shortIn := Input{Side: common.Short, Quantity: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(100), MarkPrice: decimal.NewFromInt(110)}
	assert.True(t, decimal.NewFromInt(-20).Equal(UnrealizedPnL(shortIn)))
}

func TestBankruptcyPriceHasNoMaintenanceBuffer(t *testing.T) {
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	bp := BankruptcyPrice(common.Long, entry, 10, qty, decimal.Zero)
	assert.True(t, decimal.NewFromFloat(90).Equal(bp), "got %s", bp)
}
