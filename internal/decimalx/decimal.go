// Package decimalx provides fixed-point arithmetic helpers for the exchange
// core. All money, price, and quantity values flow through
// github.com/shopspring/decimal rather than float64 — binary floating point
// cannot represent tick/step boundaries exactly and silently corrupts ledger
// math over many fills.
package decimalx

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is the exchange-wide numeric type. Prices and quantities carry 8
// fractional digits; fees-in-quote carry 2. Callers quantize explicitly with
// QuantizeTick/QuantizeStep rather than relying on a global
// default scale.
type Decimal = decimal.Decimal

// QtyScale and PriceScale are the fractional-digit counts spec.md §3
// mandates for quantities and prices.
const (
	QtyScale   = 8
	PriceScale = 8
	FeeScale   = 2
)

// Epsilon is the tolerance used when checking "price mod tickSize == 0"
// style constraints (spec.md §4.D.4).
var Epsilon = decimal.New(1, -8) // 1e-8

// Zero, One are convenience constants mirroring decimal.Zero/decimal.New(1,0).
var (
	Zero = decimal.Zero
	One  = decimal.New(1, 0)
)

// Parse parses a decimal string, the canonical persisted representation
// (spec.md §9: "Decimals persisted as strings or scaled integers, never as
// floats").
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimalx: parse %q: %w", s, err)
	}
	return d, nil
}

// FromScaledInt builds a Decimal from an integer scaled by 10^-scale, the
// other persisted representation spec.md §9 allows.
func FromScaledInt(v int64, scale int32) Decimal {
	return decimal.New(v, -scale)
}

// Notional returns price * quantity, the quote-asset notional of an order.
func Notional(price, qty Decimal) Decimal {
	return price.Mul(qty)
}

// ModIsZero reports whether v is an integer multiple of step, within
// Epsilon. Used for tick-size and step-size validation (spec.md §4.D.4).
func ModIsZero(v, step Decimal) bool {
	if step.IsZero() {
		return true
	}
	mod := v.Mod(step)
	// Mod can return a value close to step (e.g. step-epsilon) instead of
	// a value close to zero depending on rounding direction; check both
	// ends of the interval.
	return mod.Abs().LessThanOrEqual(Epsilon) || mod.Sub(step).Abs().LessThanOrEqual(Epsilon)
}

// QuantizeTick rounds price down to the nearest multiple of tick, the
// convention exchanges use so a quantized limit price never crosses a book
// level it wasn't meant to reach.
func QuantizeTick(price, tick Decimal) Decimal {
	return quantizeDown(price, tick)
}

// QuantizeStep rounds qty down to the nearest multiple of step.
func QuantizeStep(qty, step Decimal) Decimal {
	return quantizeDown(qty, step)
}

func quantizeDown(v, unit Decimal) Decimal {
	if unit.IsZero() {
		return v
	}
	units := v.Div(unit).Truncate(0)
	return units.Mul(unit)
}

// BasisPoints converts a basis-points integer (e.g. 25 == 0.25%) to a
// fractional rate Decimal.
func BasisPoints(bps int64) Decimal {
	return decimal.New(bps, -4)
}

// Max and Min are small helpers decimal.Decimal lacks natively.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
