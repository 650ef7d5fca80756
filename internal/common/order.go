package common

import (
	"fmt"

	"nyxex/internal/decimalx"
)

// Symbol identifies a tradeable market, e.g. "BTCUSDT" (spec.md §3).
type Symbol string

// UserID identifies an account.
type UserID string

// TrailingConfig carries the extra state a TrailingStop order needs
// (spec.md §3, §4.F.7).
type TrailingConfig struct {
	ActivationPrice decimalx.Decimal
	CallbackRate    decimalx.Decimal // fraction, e.g. 0.01 == 1%
	HighWaterMark   decimalx.Decimal
	Activated       bool
}

// Flags bundles the three boolean order modifiers of spec.md §3.
type Flags struct {
	ReduceOnly    bool
	PostOnly      bool
	ClosePosition bool
}

// Order is the exchange-wide order record (spec.md §3).
//
// Invariants: FilledQty <= Quantity; Status == Filled iff FilledQty ==
// Quantity; terminal statuses are write-once; an order in {Open,
// PartiallyFilled} appears in exactly one price level of exactly one book
// side. The matching engine and order book are jointly responsible for
// upholding these; Order itself is a plain value type with no behavior.
type Order struct {
	OrderID       OrderID
	ClientOrderID string // optional, caller-supplied idempotency key
	UserID        UserID
	Symbol        Symbol
	Side          Side
	Type          OrderType
	Quantity      decimalx.Decimal // original requested quantity
	Price         decimalx.Decimal // required for Limit/StopLimit
	StopPrice     decimalx.Decimal // required for Stop/StopLimit/TakeProfit
	TimeInForce   TimeInForce
	Flags         Flags

	FilledQty        decimalx.Decimal
	AverageFillPrice decimalx.Decimal
	FeesPaid         decimalx.Decimal

	Status    OrderStatus
	CreatedAt uint64 // monotonic sequence, the price-time tie-breaker

	Trailing   *TrailingConfig
	OCOLinkID  OrderID // meaningful only if HasOCOLink
	HasOCOLink bool

	RejectReason Reason
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimalx.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// IsBuy/IsSell are small readability helpers used throughout matching code.
func (o *Order) IsBuy() bool  { return o.Side == Buy }
func (o *Order) IsSell() bool { return o.Side == Sell }

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%d user=%s symbol=%s side=%s type=%s qty=%s price=%s filled=%s status=%s seq=%d}",
		o.OrderID, o.UserID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price, o.FilledQty, o.Status, o.CreatedAt,
	)
}
