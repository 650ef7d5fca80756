package decimalx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestModIsZero(t *testing.T) {
	tick := decimal.NewFromFloat(0.5)
	assert.True(t, ModIsZero(decimal.NewFromFloat(100.0), tick))
	assert.True(t, ModIsZero(decimal.NewFromFloat(100.5), tick))
	assert.False(t, ModIsZero(decimal.NewFromFloat(100.3), tick))
}

func TestQuantizeTick(t *testing.T) {
	tick := decimal.NewFromFloat(0.1)
	got := QuantizeTick(decimal.NewFromFloat(100.37), tick)
	assert.True(t, decimal.NewFromFloat(100.3).Equal(got), "got %s", got)
}

func TestQuantizeStep(t *testing.T) {
	step := decimal.NewFromFloat(0.001)
	got := QuantizeStep(decimal.NewFromFloat(1.2345), step)
	assert.True(t, decimal.NewFromFloat(1.234).Equal(got), "got %s", got)
}

func TestNotional(t *testing.T) {
	got := Notional(decimal.NewFromInt(100), decimal.NewFromFloat(1.5))
	assert.True(t, decimal.NewFromFloat(150).Equal(got))
}
