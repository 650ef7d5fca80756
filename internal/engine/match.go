package engine

import (
	"fmt"

	"nyxex/internal/book"
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// processSubmit assigns a new order its identity and runs it through
// matching or conditional registration (spec.md §4.F).
func (s *Shard) processSubmit(sub *Submission) Outcome {
	o := sub.Order
	o.OrderID = common.OrderID(s.seq.Next())
	o.CreatedAt = uint64(o.OrderID)
	o.Status = common.Pending

	if _, exists := s.peekLocal(o.OrderID); exists {
		s.fault(fmt.Sprintf("duplicate order id %d assigned by sequence generator", o.OrderID))
		return Outcome{Err: fmt.Errorf("engine: shard %s faulted: duplicate order id %d", s.symbol, o.OrderID)}
	}

	s.meta[o.OrderID] = orderMeta{
		Leverage:   sub.Leverage,
		MarginMode: sub.MarginMode,
		Hold:       sub.Hold,
		HasHold:    sub.HasHold,
	}
	s.bus.Publish(events.OrderAccepted, events.OrderAcceptedPayload{Order: o})

	if o.Type.IsConditional() {
		s.registerConditional(&o)
		return Outcome{Order: o}
	}
	return s.matchAndFinalize(&o)
}

// processSubmitOCO runs both legs through processSubmit, links them, and
// immediately cancels whichever leg is still alive if the other already
// reached a terminal state.
func (s *Shard) processSubmitOCO(pair *[2]Submission) OutcomePair {
	outA := s.processSubmit(&pair[0])
	outB := s.processSubmit(&pair[1])

	aID, bID := outA.Order.OrderID, outB.Order.OrderID
	s.ocoLinks[aID] = bID
	s.ocoLinks[bID] = aID
	s.markOCOFlag(aID, bID)
	s.markOCOFlag(bID, aID)

	if outA.Order.Status.IsTerminal() {
		s.unlinkOCO(aID)
	} else if outB.Order.Status.IsTerminal() {
		s.unlinkOCO(bID)
	}
	return OutcomePair{A: outA, B: outB}
}

func (s *Shard) markOCOFlag(id, linkedTo common.OrderID) {
	if o, ok := s.book.Peek(id); ok {
		o.HasOCOLink = true
		o.OCOLinkID = linkedTo
		return
	}
	if _, co := s.findConditional(id); co != nil {
		co.order.HasOCOLink = true
		co.order.OCOLinkID = linkedTo
	}
}

// processTriggered converts a fired conditional order to its equivalent
// Market/Limit type and runs it back through matching (spec.md §4.F.5).
func (s *Shard) processTriggered(o *common.Order) Outcome {
	convertTriggered(o)
	return s.matchAndFinalize(o)
}

// matchAndFinalize implements the post-only check, FOK dry-run-then-
// commit, the match walk, and residue handling of spec.md §4.F.2-4.
func (s *Shard) matchAndFinalize(o *common.Order) Outcome {
	if o.Flags.PostOnly && s.wouldCross(o) {
		o.Status = common.Rejected
		o.RejectReason = common.ReasonPostOnlyWouldCross
		s.finalizeIfTerminal(o)
		s.publishRejected(o)
		return Outcome{Order: *o}
	}

	if o.TimeInForce == common.FOK {
		if !s.simulateFillable(o) {
			o.Status = common.Rejected
			o.RejectReason = common.ReasonFOKNotFillable
			s.finalizeIfTerminal(o)
			s.publishRejected(o)
			return Outcome{Order: *o}
		}
	}

	trades := s.walk(o)
	s.settleResidue(o)
	s.finalizeIfTerminal(o)
	if o.FilledQty.GreaterThan(decimalx.Zero) {
		s.bus.Publish(events.OrderFilled, events.OrderFilledPayload{Order: *o})
	}
	s.unlinkIfTerminalOCO(o)
	if len(trades) > 0 {
		// Conditional orders trigger off executed trade prices too, not
		// just mark-price ticks (spec.md §4.F.5).
		s.evaluateTick(trades[len(trades)-1].Price)
		if err := s.checkInvariants(o); err != nil {
			s.fault(err.Error())
		}
	}
	return Outcome{Order: *o, Trades: trades}
}

// checkInvariants asserts the post-match invariants of spec.md §4.E/§7: the
// book must never be crossed at rest, and no position may carry a
// negative quantity. Only run after a match actually moved state, since a
// no-op submit (pure residue-to-book) cannot introduce either breach.
func (s *Shard) checkInvariants(o *common.Order) error {
	if err := s.book.CheckInvariants(); err != nil {
		return err
	}
	if pos := s.positions.Get(o.UserID, o.Symbol); pos.Quantity.LessThan(decimalx.Zero) {
		return fmt.Errorf("engine %s: negative position quantity for user %s: %s", s.symbol, o.UserID, pos.Quantity)
	}
	return nil
}

// wouldCross reports whether a postOnly order's price would immediately
// match the opposite side's best level (spec.md §4.F.2).
func (s *Shard) wouldCross(o *common.Order) bool {
	level, ok := s.book.BestOppositeLevel(o.Side)
	if !ok {
		return false
	}
	if o.Side == common.Buy {
		return level.Price.LessThanOrEqual(o.Price)
	}
	return level.Price.GreaterThanOrEqual(o.Price)
}

// nextMatchableLevel returns the next opposite-side level o may match
// against, or (nil, false) once the book is exhausted or the next level's
// price violates o's limit (spec.md §4.F.3: "Stop when ... the next
// level's price violates the limit").
func (s *Shard) nextMatchableLevel(o *common.Order) (*book.PriceLevel, bool) {
	level, ok := s.book.BestOppositeLevel(o.Side)
	if !ok {
		return nil, false
	}
	if o.Type != common.Market {
		if o.Side == common.Buy && level.Price.GreaterThan(o.Price) {
			return nil, false
		}
		if o.Side == common.Sell && level.Price.LessThan(o.Price) {
			return nil, false
		}
	}
	return level, true
}

// walk matches o against resting opposite-side orders until o is fully
// filled, the book is exhausted, or the limit bound is violated (spec.md
// §4.F.3).
func (s *Shard) walk(o *common.Order) []common.Trade {
	var trades []common.Trade

	for !o.Remaining().IsZero() {
		level, ok := s.nextMatchableLevel(o)
		if !ok {
			break
		}

		progressed := false
		for _, m := range level.Snapshot() {
			if o.Remaining().IsZero() {
				break
			}
			if m.UserID == o.UserID {
				// Self-trade prevention: pass over, leave M resting
				// (spec.md §4.F.3).
				continue
			}

			fillQty := decimalx.Min(o.Remaining(), m.Remaining())
			t := s.buildTrade(o, m, fillQty)
			s.applyFill(o, m, t)
			trades = append(trades, t)
			progressed = true

			if m.Remaining().IsZero() {
				m.Status = common.Filled
				s.book.RemoveOrder(m.OrderID)
				s.finalizeIfTerminal(m)
				s.bus.Publish(events.OrderFilled, events.OrderFilledPayload{Order: *m})
				s.unlinkIfTerminalOCO(m)
			} else {
				m.Status = common.PartiallyFilled
				s.book.DecrementFilled(m.OrderID)
			}
		}
		if !progressed {
			// The whole level was this taker's own resting orders.
			break
		}
	}
	return trades
}

// simulateFillable performs the read-only dry walk an FOK order needs
// before committing any fill (spec.md §4.F.4: "a dry walk to verify full
// fillability, then the commit walk").
func (s *Shard) simulateFillable(o *common.Order) bool {
	need := o.Remaining()
	for level := range s.book.IterateOpposite(o.Side) {
		if o.Type != common.Market {
			if o.Side == common.Buy && level.Price.GreaterThan(o.Price) {
				break
			}
			if o.Side == common.Sell && level.Price.LessThan(o.Price) {
				break
			}
		}
		for _, m := range level.Snapshot() {
			if m.UserID == o.UserID {
				continue
			}
			need = need.Sub(m.Remaining())
			if need.LessThanOrEqual(decimalx.Zero) {
				return true
			}
		}
	}
	return need.LessThanOrEqual(decimalx.Zero)
}

// settleResidue applies the post-walk disposition rules of spec.md
// §4.F.4.
func (s *Shard) settleResidue(o *common.Order) {
	if o.Remaining().IsZero() {
		o.Status = common.Filled
		return
	}
	if o.TimeInForce == common.IOC {
		o.Status = common.Cancelled
		s.publishCancelled(o, "ioc_residue")
		return
	}
	if o.Type == common.Market {
		o.Status = common.Cancelled
		o.RejectReason = common.ReasonInsufficientLiquidity
		s.publishCancelled(o, "insufficient_liquidity")
		return
	}
	if o.FilledQty.IsZero() {
		o.Status = common.Open
	} else {
		o.Status = common.PartiallyFilled
	}
	s.book.AddResting(o)
}

func (s *Shard) buildTrade(taker, maker *common.Order, qty decimalx.Decimal) common.Trade {
	mkt, _ := s.markets.Snapshot(s.symbol)
	price := maker.Price
	notional := decimalx.Notional(price, qty)
	return common.Trade{
		TradeID:   common.TradeID(s.tradeSeq.Next()),
		Symbol:    s.symbol,
		TakerID:   taker.OrderID,
		MakerID:   maker.OrderID,
		TakerUser: taker.UserID,
		MakerUser: maker.UserID,
		TakerSide: taker.Side,
		Price:     price,
		Quantity:  qty,
		TakerFee:  notional.Mul(mkt.TakerFeeRate),
		MakerFee:  notional.Mul(mkt.MakerFeeRate),
		Seq:       s.seq.Peek(),
	}
}

// applyFill updates both orders' fill bookkeeping, folds the trade into
// each side's position, and publishes TradeExecuted (spec.md §4.F.3,
// §4.G).
func (s *Shard) applyFill(taker, maker *common.Order, t common.Trade) {
	taker.AverageFillPrice = weightedAvgPrice(taker.AverageFillPrice, taker.FilledQty, t.Price, t.Quantity)
	taker.FilledQty = taker.FilledQty.Add(t.Quantity)
	taker.FeesPaid = taker.FeesPaid.Add(t.TakerFee)

	maker.AverageFillPrice = weightedAvgPrice(maker.AverageFillPrice, maker.FilledQty, t.Price, t.Quantity)
	maker.FilledQty = maker.FilledQty.Add(t.Quantity)
	maker.FeesPaid = maker.FeesPaid.Add(t.MakerFee)

	mkt, _ := s.markets.Snapshot(s.symbol)
	quote := wallet.Asset(mkt.QuoteAsset)
	s.applyPosition(taker, t.Price, t.Quantity, quote)
	s.applyPosition(maker, t.Price, t.Quantity, quote)

	s.bus.Publish(events.TradeExecuted, events.TradePayload{Trade: t})
}

func (s *Shard) applyPosition(o *common.Order, price, qty decimalx.Decimal, quote wallet.Asset) {
	meta := s.meta[o.OrderID]
	equity := s.wallets.Equity(o.UserID, quote)
	if meta.MarginMode == common.Isolated && meta.HasHold {
		equity = meta.Hold.Amount()
	}

	rate := decimalx.Zero
	mkt, ok := s.markets.Snapshot(s.symbol)
	if ok {
		if tier, found := mkt.TierFor(decimalx.Notional(price, qty)); found {
			rate = tier.MaintenanceMarginRate
		}
	}

	s.positions.Apply(o.UserID, s.symbol, position.FillApplication{
		Side:  o.Side,
		Price: price,
		Qty:   qty,
	}, rate, meta.Leverage, meta.MarginMode, equity)
}

func weightedAvgPrice(avg, prevQty, price, qty decimalx.Decimal) decimalx.Decimal {
	if prevQty.IsZero() {
		return price
	}
	totalQty := prevQty.Add(qty)
	return avg.Mul(prevQty).Add(price.Mul(qty)).Div(totalQty)
}
