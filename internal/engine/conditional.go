package engine

import (
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// registerConditional places a Stop/StopLimit/TakeProfit/TrailingStop
// order in the trigger set instead of the book (spec.md §4.F.5).
func (s *Shard) registerConditional(o *common.Order) {
	o.Status = common.Pending
	s.conditional = append(s.conditional, &conditionalOrder{order: o})
}

// evaluateTick runs on every executed trade and every mark-price update
// for this symbol (spec.md §4.F.5, §4.F.7): updates trailing-stop
// high-water marks, then converts and resubmits any order whose trigger
// condition is now met.
func (s *Shard) evaluateTick(price decimalx.Decimal) {
	if len(s.conditional) == 0 {
		return
	}

	remaining := s.conditional[:0]
	var triggered []*common.Order
	for _, co := range s.conditional {
		o := co.order
		if o.Type == common.TrailingStop {
			s.updateTrailing(o, price)
		}
		if s.isTriggered(o, price) {
			triggered = append(triggered, o)
		} else {
			remaining = append(remaining, co)
		}
	}
	s.conditional = remaining

	// Resubmit at the head of the queue, most-recently-triggered first,
	// so they are the very next items this shard's loop processes
	// (spec.md §4.F.5: "resubmit to the intake queue at the head").
	for _, o := range triggered {
		s.pending = append([]intakeItem{{kind: kindTrigger, triggered: o}}, s.pending...)
	}
}

// isTriggered reports whether price has crossed o's trigger condition
// (spec.md §4.F.5, §4.F.7).
func (s *Shard) isTriggered(o *common.Order, price decimalx.Decimal) bool {
	switch o.Type {
	case common.Stop, common.StopLimit:
		if o.Side == common.Buy {
			return price.GreaterThanOrEqual(o.StopPrice)
		}
		return price.LessThanOrEqual(o.StopPrice)
	case common.TakeProfit:
		if o.Side == common.Buy {
			return price.LessThanOrEqual(o.StopPrice)
		}
		return price.GreaterThanOrEqual(o.StopPrice)
	case common.TrailingStop:
		if o.Trailing == nil || !o.Trailing.Activated {
			return false
		}
		eff := effectiveTrailingStop(o)
		if o.Side == common.Sell {
			return price.LessThanOrEqual(eff)
		}
		return price.GreaterThanOrEqual(eff)
	default:
		return false
	}
}

// updateTrailing arms a trailing stop once price reaches its activation
// price, then tracks the high-water mark in the favorable direction
// (spec.md §4.F.7).
func (s *Shard) updateTrailing(o *common.Order, price decimalx.Decimal) {
	t := o.Trailing
	if !t.Activated {
		if o.Side == common.Sell && price.GreaterThanOrEqual(t.ActivationPrice) {
			t.Activated = true
			t.HighWaterMark = price
		}
		if o.Side == common.Buy && price.LessThanOrEqual(t.ActivationPrice) {
			t.Activated = true
			t.HighWaterMark = price
		}
		return
	}
	if o.Side == common.Sell {
		t.HighWaterMark = decimalx.Max(t.HighWaterMark, price)
	} else {
		t.HighWaterMark = decimalx.Min(t.HighWaterMark, price)
	}
}

// effectiveTrailingStop computes the trailing stop's current effective
// stop price (spec.md §4.F.7): "highWaterMark * (1 - callbackRate) for
// Sell trailing stops (inverse for Buy)".
func effectiveTrailingStop(o *common.Order) decimalx.Decimal {
	t := o.Trailing
	if o.Side == common.Sell {
		return t.HighWaterMark.Mul(decimalx.One.Sub(t.CallbackRate))
	}
	return t.HighWaterMark.Mul(decimalx.One.Add(t.CallbackRate))
}

// convertTriggered changes a triggered conditional order's type into
// the equivalent Market/Limit type the matching walk understands (spec.md
// §4.F.5: "convert the conditional into an equivalent Market/Limit order").
// Called from processTriggered before matching.
func convertTriggered(o *common.Order) {
	o.Status = common.Triggered
	switch o.Type {
	case common.Stop, common.TrailingStop:
		o.Type = common.Market
	case common.StopLimit:
		o.Type = common.Limit
	case common.TakeProfit:
		if o.Price.IsZero() {
			o.Type = common.Market
		} else {
			o.Type = common.Limit
		}
	}
}
