// Package validator implements the Order Validator (spec.md §2 component
// D, §4.D): a pure function that rejects malformed, over-limit, or
// under-funded order requests before they ever reach a symbol shard. It
// holds no state of its own — every fact it needs (market metadata,
// wallet balances, the caller's existing position, open-order counts) is
// passed in as a snapshot, so the same inputs always produce the same
// verdict.
package validator

import (
	"time"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// OCOLeg describes the linked order of a one-cancels-other pair, as
// supplied by the caller alongside the primary Request (spec.md §4.D.12).
type OCOLeg struct {
	Type      common.OrderType
	Side      common.Side
	Price     decimalx.Decimal
	StopPrice decimalx.Decimal
}

// Request is the unvalidated, caller-supplied order intent (spec.md §4.D:
// "validate(req, ...)").
type Request struct {
	ClientOrderID string
	UserID        common.UserID
	Symbol        common.Symbol
	Side          common.Side
	Type          common.OrderType
	Quantity      decimalx.Decimal
	Price         decimalx.Decimal
	StopPrice     decimalx.Decimal
	TimeInForce   common.TimeInForce
	Flags         common.Flags
	Leverage      int
	MarginMode    common.MarginMode
	Trailing      *common.TrailingConfig
	OCO           *OCOLeg
}

// Limits bundles the open-order-count caps of spec.md §4.D.6. Counts are
// supplied by the caller (the engine/gateway owns the authoritative
// count) so Validate itself stays a pure function of its arguments.
type Limits struct {
	UserOpenOrders     int
	UserOpenOrderCap   int
	GlobalOpenOrders   int
	GlobalOpenOrderCap int
}

// NormalizedOrder is the accepted, quantized order plus the wallet
// reservation the caller must place before admitting it to a shard.
type NormalizedOrder struct {
	Order         common.Order
	ReserveAsset  wallet.Asset
	ReserveAmount decimalx.Decimal
}

// Validate runs the 13 checks of spec.md §4.D in order, stopping at the
// first failure. balances is the requesting user's wallet snapshot
// (wallet.Wallet.Snapshot); pos is that user's existing position on
// req.Symbol (position.Book.Get); mark is the symbol's current mark price,
// needed only by the OCO and trailing-stop checks; now is stamped once at
// ingress by the caller, never read internally (spec.md §4.F: "timestamps
// are stamped at ingress").
func Validate(req Request, mkt market.Snapshot, balances map[wallet.Asset]wallet.Balance, pos position.Position, limits Limits, mark decimalx.Decimal, now time.Time) (NormalizedOrder, []common.Reason, error) {
	fail := func(r common.Reason) (NormalizedOrder, []common.Reason, error) {
		return NormalizedOrder{}, []common.Reason{r}, nil
	}

	// 1. Symbol exists and status = Active.
	if !mkt.IsTradeable(now) {
		return fail(common.ReasonMarketClosed)
	}

	// 2. Order type is in the symbol's allowed set.
	if !mkt.AllowsOrderType(req.Type) {
		return fail(common.ReasonValidation)
	}

	// 3. Required fields for the type.
	if needsPrice(req.Type) && req.Price.IsZero() {
		return fail(common.ReasonValidation)
	}
	if needsStopPrice(req.Type) && req.StopPrice.IsZero() {
		return fail(common.ReasonValidation)
	}
	if req.Type == common.TrailingStop && req.Trailing == nil {
		return fail(common.ReasonValidation)
	}
	if req.OCO != nil && req.OCO.Type != common.Limit && req.OCO.Type != common.Stop && req.OCO.Type != common.StopLimit {
		return fail(common.ReasonValidation)
	}

	// 4. price mod tickSize == 0; quantity mod stepSize == 0.
	if needsPrice(req.Type) && !decimalx.ModIsZero(req.Price, mkt.TickSize) {
		return fail(common.ReasonValidation)
	}
	if !decimalx.ModIsZero(req.Quantity, mkt.StepSize) {
		return fail(common.ReasonValidation)
	}

	// 5. price * quantity >= minNotional.
	notionalPrice := req.Price
	if notionalPrice.IsZero() {
		notionalPrice = mark
	}
	notional := decimalx.Notional(notionalPrice, req.Quantity)
	if notional.LessThan(mkt.MinNotional) {
		return fail(common.ReasonValidation)
	}

	// 6. Open-order caps.
	if limits.UserOpenOrderCap > 0 && limits.UserOpenOrders >= limits.UserOpenOrderCap {
		return fail(common.ReasonValidation)
	}
	if limits.GlobalOpenOrderCap > 0 && limits.GlobalOpenOrders >= limits.GlobalOpenOrderCap {
		return fail(common.ReasonValidation)
	}

	// 8. leverage in [1, maxLeverageForNotional(tiers, notional)] — checked
	// before reservation sizing (7) since the reservation formula depends
	// on leverage.
	maxLev := mkt.MaxLeverageForNotional(notional)
	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	if leverage < 1 || leverage > maxLev {
		return fail(common.ReasonInvalidLeverage)
	}

	// 7. Sufficient reservable balance. This is a derivatives exchange
	// (spec.md §1: perpetual-style margin trading throughout) so both
	// sides reserve margin in the quote asset rather than Sell reserving
	// base-asset inventory.
	takerFee := mkt.TakerFeeRate
	reserveAmount := notional.Mul(decimalx.One.Add(takerFee)).Div(decimalx.FromScaledInt(int64(leverage), 0))
	quoteAsset := wallet.Asset(mkt.QuoteAsset)
	bal := balances[quoteAsset]
	if bal.Available.LessThan(reserveAmount) {
		return fail(common.ReasonInsufficientBalance)
	}

	// 9. reduceOnly requires an opposite-side position big enough to absorb it.
	if req.Flags.ReduceOnly {
		wantSide := common.FromSide(req.Side.Opposite())
		if pos.Side != wantSide || pos.Quantity.LessThan(req.Quantity) {
			return fail(common.ReasonReduceOnlyViolation)
		}
	}

	// 10. postOnly forbidden on Market (crossing rejection happens later,
	// in the matching engine, once the opposite book side is known).
	if req.Flags.PostOnly && req.Type == common.Market {
		return fail(common.ReasonValidation)
	}

	// 11. closePosition implies Market type and a sizable open position.
	if req.Flags.ClosePosition {
		if req.Type != common.Market {
			return fail(common.ReasonValidation)
		}
		wantSide := common.FromSide(req.Side.Opposite())
		if pos.Side != wantSide || pos.Quantity.IsZero() {
			return fail(common.ReasonReduceOnlyViolation)
		}
	}

	// 12. OCO: linked leg must be the opposite side; one Limit, the other
	// Stop/StopLimit; the Limit leg must sit on the profit-taking side of mark.
	if req.OCO != nil {
		if req.OCO.Side == req.Side {
			return fail(common.ReasonValidation)
		}
		limitLeg, stopLeg, limitSide, ok := splitOCOLegs(req.Type, req.Side, req.Price, req.OCO)
		if !ok {
			return fail(common.ReasonValidation)
		}
		if !profitSideOfMark(limitLeg, mark, limitSide) {
			return fail(common.ReasonValidation)
		}
		_ = stopLeg
	}

	// 13. Trailing stop: callback rate in (0.1%, 50%); activation price on
	// the correct side of current mark for the intended direction.
	if req.Type == common.TrailingStop {
		cb := req.Trailing.CallbackRate
		lower := decimalx.BasisPoints(10)  // 0.10%
		upper := decimalx.BasisPoints(5000) // 50%
		if cb.LessThanOrEqual(lower) || cb.GreaterThanOrEqual(upper) {
			return fail(common.ReasonValidation)
		}
		// A Sell trailing stop protects a long and arms once price has
		// already moved in its favor (above mark); a Buy trailing stop
		// protects a short and arms below mark.
		act := req.Trailing.ActivationPrice
		if req.Side == common.Sell && act.LessThan(mark) {
			return fail(common.ReasonValidation)
		}
		if req.Side == common.Buy && act.GreaterThan(mark) {
			return fail(common.ReasonValidation)
		}
	}

	order := common.Order{
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      decimalx.QuantizeStep(req.Quantity, mkt.StepSize),
		Price:         decimalx.QuantizeTick(req.Price, mkt.TickSize),
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		Flags:         req.Flags,
		Status:        common.Pending,
		Trailing:      req.Trailing,
	}

	return NormalizedOrder{Order: order, ReserveAsset: quoteAsset, ReserveAmount: reserveAmount}, nil, nil
}

func needsPrice(t common.OrderType) bool {
	return t == common.Limit || t == common.StopLimit
}

func needsStopPrice(t common.OrderType) bool {
	switch t {
	case common.Stop, common.StopLimit, common.TakeProfit:
		return true
	default:
		return false
	}
}

// splitOCOLegs returns (limitLeg price, stopLeg price, limitLeg side, ok)
// for an OCO pair where exactly one leg is Limit and the other
// Stop/StopLimit.
func splitOCOLegs(primaryType common.OrderType, primarySide common.Side, primaryPrice decimalx.Decimal, linked *OCOLeg) (decimalx.Decimal, decimalx.Decimal, common.Side, bool) {
	primaryIsLimit := primaryType == common.Limit
	linkedIsLimit := linked.Type == common.Limit
	linkedIsStop := linked.Type == common.Stop || linked.Type == common.StopLimit
	primaryIsStop := primaryType == common.Stop || primaryType == common.StopLimit

	switch {
	case primaryIsLimit && linkedIsStop:
		return primaryPrice, linked.StopPrice, primarySide, true
	case primaryIsStop && linkedIsLimit:
		return linked.Price, primaryPrice, linked.Side, true
	default:
		return decimalx.Zero, decimalx.Zero, 0, false
	}
}

// profitSideOfMark reports whether limitPrice sits on the profit-taking
// side of the current mark for a Limit leg resting with the given side:
// a Sell-to-close leg must rest above mark, a Buy-to-close leg below —
// otherwise it would have already crossed and filled instead of resting.
func profitSideOfMark(limitPrice, mark decimalx.Decimal, limitSide common.Side) bool {
	if limitSide == common.Sell {
		return limitPrice.GreaterThan(mark)
	}
	return limitPrice.LessThan(mark)
}
