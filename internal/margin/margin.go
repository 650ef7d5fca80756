// Package margin implements the pure tier-based margin math of spec.md
// §4.H: initial/maintenance margin, unrealized PnL, margin ratio, and
// liquidation/bankruptcy prices. Every function here is side-effect free
// so Position Book and Risk Monitor can call it on a read-only snapshot
// without holding any lock longer than the call.
package margin

import (
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// Input bundles the values the formulas of spec.md §4.H need. Equity is
// either a position's IsolatedMargin (Isolated mode) or the owning
// wallet's equity (Cross mode) — the caller resolves which per spec.md
// §4.H: "For Cross mode, substitute wallet equity for isolatedMargin."
type Input struct {
	Side             common.PositionSide
	Quantity         decimalx.Decimal
	EntryPrice       decimalx.Decimal
	MarkPrice        decimalx.Decimal
	Leverage         int
	MaintenanceRate  decimalx.Decimal
	Equity           decimalx.Decimal // isolated margin, or cross wallet equity
	RealizedPnl      decimalx.Decimal // realized since entry
}

// InitialMargin returns Q*E/L (spec.md §4.H).
func InitialMargin(qty, entry decimalx.Decimal, leverage int) decimalx.Decimal {
	if leverage <= 0 {
		return qty.Mul(entry)
	}
	return qty.Mul(entry).Div(decimalx.FromScaledInt(int64(leverage), 0))
}

// UnrealizedPnL returns (M-E)*Q*sign(side) (spec.md §4.H).
func UnrealizedPnL(in Input) decimalx.Decimal {
	diff := in.MarkPrice.Sub(in.EntryPrice).Mul(in.Quantity)
	if in.Side == common.Short {
		return diff.Neg()
	}
	return diff
}

// MaintenanceMargin returns the maintenance margin requirement for the
// position's entry notional (Q*E) at rate in.MaintenanceRate, the same
// basis LiquidationPrice's formula uses.
func MaintenanceMargin(in Input) decimalx.Decimal {
	notional := in.Quantity.Mul(in.EntryPrice)
	return notional.Mul(in.MaintenanceRate)
}

// MarginRatio returns maintenanceMargin / (equity + unrealizedPnL +
// realizedPnl) (spec.md §4.H). A ratio >= 1 means the position must be
// liquidated (spec.md §4.I). If the denominator is <= 0 the position is
// already bankrupt and MarginRatio returns a very large ratio rather than
// dividing by zero or a negative number.
func MarginRatio(in Input) decimalx.Decimal {
	denom := in.Equity.Add(UnrealizedPnL(in)).Add(in.RealizedPnl)
	if denom.LessThanOrEqual(decimalx.Zero) {
		return decimalx.FromScaledInt(1000, 0) // sentinel "already breached"
	}
	mm := MaintenanceMargin(in)
	return mm.Div(denom)
}

// LiquidationPrice returns the mark price at which MarginRatio reaches 1
// for a fixed-leverage, no-added-isolated-margin position (spec.md
// §4.H): Long: E*(1 - 1/L + r); Short: E*(1 + 1/L - r).
//
// extraEquity is any isolated margin contributed beyond the position's
// own initial margin (spec.md §4.H: "Adjust for isolated extra margin by
// treating it as additional equity") — pass zero for Cross mode or a
// position whose isolated margin exactly equals its initial margin.
func LiquidationPrice(side common.PositionSide, entry decimalx.Decimal, leverage int, maintenanceRate decimalx.Decimal, qty, extraEquity decimalx.Decimal) decimalx.Decimal {
	return breachPrice(side, entry, leverage, maintenanceRate, qty, extraEquity)
}

// BankruptcyPrice is LiquidationPrice with maintenanceRate=0: the price
// at which equity reaches exactly zero (spec.md §4.H).
func BankruptcyPrice(side common.PositionSide, entry decimalx.Decimal, leverage int, qty, extraEquity decimalx.Decimal) decimalx.Decimal {
	return breachPrice(side, entry, leverage, decimalx.Zero, qty, extraEquity)
}

func breachPrice(side common.PositionSide, entry decimalx.Decimal, leverage int, maintenanceRate, qty, extraEquity decimalx.Decimal) decimalx.Decimal {
	if leverage <= 0 || qty.IsZero() {
		return decimalx.Zero
	}
	invL := decimalx.One.Div(decimalx.FromScaledInt(int64(leverage), 0))
	// extraEquity is expressed as a price-per-unit-quantity offset so it
	// composes with the entry-price-relative formula.
	extraPerQty := decimalx.Zero
	if !qty.IsZero() {
		extraPerQty = extraEquity.Div(qty)
	}

	if side == common.Long {
		factor := decimalx.One.Sub(invL).Add(maintenanceRate)
		return entry.Mul(factor).Sub(extraPerQty)
	}
	factor := decimalx.One.Add(invL).Sub(maintenanceRate)
	return entry.Mul(factor).Add(extraPerQty)
}

// IsBreached reports whether mark has crossed the liquidation price for
// side (spec.md §4.I: "mark crosses liquidationPrice for the position's
// side").
func IsBreached(side common.PositionSide, mark, liquidationPrice decimalx.Decimal) bool {
	switch side {
	case common.Long:
		return mark.LessThanOrEqual(liquidationPrice)
	case common.Short:
		return mark.GreaterThanOrEqual(liquidationPrice)
	default:
		return false
	}
}
