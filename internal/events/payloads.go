package events

import (
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// OrderAcceptedPayload fires when submitOrder validates and admits an
// order (resting or immediately matched).
type OrderAcceptedPayload struct {
	Order common.Order
}

// OrderRejectedPayload fires when validation or the matching engine
// rejects an order.
type OrderRejectedPayload struct {
	OrderID common.OrderID
	UserID  common.UserID
	Symbol  common.Symbol
	Reason  common.Reason
	Detail  string
}

// OrderFilledPayload fires for a taker once per match when it filled any
// quantity, and for a resting maker only when the maker becomes fully
// filled; a partial maker fill publishes no OrderFilled.
type OrderFilledPayload struct {
	Order common.Order
}

// OrderCancelledPayload fires when an order is cancelled: by user request,
// cancel-all, OCO sibling cancellation, IOC residue, or a Market order
// running out of liquidity. A FOK order that cannot fill in full is
// rejected (OrderRejected), not cancelled.
type OrderCancelledPayload struct {
	OrderID common.OrderID
	UserID  common.UserID
	Symbol  common.Symbol
	Reason  string
}

// TradePayload carries a completed Trade.
type TradePayload struct {
	Trade common.Trade
}

// PositionUpdatedPayload fires whenever a Position is mutated.
type PositionUpdatedPayload struct {
	UserID          common.UserID
	Symbol          common.Symbol
	Side            common.PositionSide
	Quantity        decimalx.Decimal
	EntryPrice      decimalx.Decimal
	RealizedPnl     decimalx.Decimal
	LiquidationPrice decimalx.Decimal
	Status          common.PositionStatus
}

// LiquidationQueuedPayload fires when the Risk Monitor enqueues a position
// for forced closure.
type LiquidationQueuedPayload struct {
	UserID common.UserID
	Symbol common.Symbol
	Reason string
}

// LiquidatedPayload fires when the Liquidation Engine finishes closing a
// position.
type LiquidatedPayload struct {
	UserID          common.UserID
	Symbol          common.Symbol
	ClosePrice      decimalx.Decimal
	InsuranceDebit  decimalx.Decimal
	ADLApplied      bool
}

// LiquidationFailedPayload fires when the Liquidation Engine exhausts its
// retry budget against a symbol shard (spec.md §7).
type LiquidationFailedPayload struct {
	UserID common.UserID
	Symbol common.Symbol
	Detail string
}

// MarginCallPayload fires when a position's margin ratio crosses a
// configured warning threshold below the hard liquidation trigger
// (SPEC_FULL.md §3.I supplement).
type MarginCallPayload struct {
	UserID      common.UserID
	Symbol      common.Symbol
	MarginRatio decimalx.Decimal
}

// MarketStatusChangedPayload fires on any admin lifecycle transition.
type MarketStatusChangedPayload struct {
	Symbol common.Symbol
	Status common.MarketStatus
}

// ShardFaultPayload fires when an internal invariant breach stops a shard
// (spec.md §7).
type ShardFaultPayload struct {
	Symbol common.Symbol
	Detail string
}

// MarkPriceUpdatedPayload fires whenever the Price Feed Ingress accepts a
// new tick for a symbol (SPEC_FULL.md §3.C). Consumed by the Risk Monitor
// and by the matching engine's trailing-stop/conditional evaluators.
type MarkPriceUpdatedPayload struct {
	Symbol common.Symbol
	Bid    decimalx.Decimal
	Ask    decimalx.Decimal
	Mark   decimalx.Decimal
	Ts     int64
}
