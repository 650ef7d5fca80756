// Package engine implements the Matching Engine (spec.md §2 component F,
// §4.F): one Shard per symbol, each single-threaded over its own intake
// queue, supervised by a tomb.Tomb the way the teacher's server.go
// supervises its worker pool. Generalizes the teacher's
// internal/engine/{engine.go,orderbook.go}, which kept one OrderBook per
// AssetType with a stubbed Trade() and no fee, position, or conditional
// order handling.
package engine

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/book"
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// Submission is a fully validated order, ready for the engine to assign
// an OrderID and run it through matching. It is what
// internal/validator.NormalizedOrder becomes once a caller has also
// reserved the wallet hold it names.
type Submission struct {
	Order      common.Order
	Hold       wallet.Hold
	HasHold    bool
	Leverage   int
	MarginMode common.MarginMode
}

// CancelRequest asks the owning shard to cancel a live order.
type CancelRequest struct {
	OrderID common.OrderID
	UserID  common.UserID
}

// Outcome is a Shard's synchronous reply to a Submit/Cancel call.
type Outcome struct {
	Order  common.Order
	Trades []common.Trade
	Err    error
}

// OutcomePair is the reply to SubmitOCO, one Outcome per leg.
type OutcomePair struct {
	A, B Outcome
}

type itemKind int

const (
	kindSubmit itemKind = iota
	kindSubmitOCO
	kindCancel
	kindCancelAllUser
	kindPeek
	kindTrigger
	kindMark
)

type intakeItem struct {
	kind          itemKind
	submit        *Submission
	ocoPair       *[2]Submission
	cancel        *CancelRequest
	cancelAllUser common.UserID
	peek          common.OrderID
	triggered     *common.Order
	mark          decimalx.Decimal

	replyOutcome chan Outcome
	replyPair    chan OutcomePair
	replyCount   chan int
}

// orderMeta is the engine-private bookkeeping a Shard keeps per live
// order, alongside the order itself (which lives in the book or the
// conditional set) — the wallet hold and margin configuration the
// validator decided at admission time.
type orderMeta struct {
	Leverage   int
	MarginMode common.MarginMode
	Hold       wallet.Hold
	HasHold    bool
}

// conditionalOrder is a Stop/StopLimit/TakeProfit/TrailingStop order that
// never enters the book, registered in the trigger set instead (spec.md
// §4.F.5).
type conditionalOrder struct {
	order *common.Order
}

// Shard owns one symbol's book, trigger set, and OCO links, and is the
// only writer of any of them — spec.md §5's "single-threaded per symbol"
// requirement made structural rather than merely advisory.
type Shard struct {
	symbol    common.Symbol
	book      *book.Book
	positions *position.Book
	wallets   *wallet.Wallet
	markets   *market.Registry
	bus       *events.Bus
	seq       *common.SequenceGenerator
	tradeSeq  *common.SequenceGenerator

	intake  chan intakeItem
	pending []intakeItem

	meta        map[common.OrderID]orderMeta
	conditional []*conditionalOrder
	ocoLinks    map[common.OrderID]common.OrderID

	markPrice decimalx.Decimal
	faulted   bool

	t   *tomb.Tomb
	log zerolog.Logger
}

// NewShard constructs a shard for symbol. Call Start to begin processing.
func NewShard(symbol common.Symbol, b *book.Book, positions *position.Book, wallets *wallet.Wallet, markets *market.Registry, bus *events.Bus, seq, tradeSeq *common.SequenceGenerator) *Shard {
	return &Shard{
		symbol:    symbol,
		book:      b,
		positions: positions,
		wallets:   wallets,
		markets:   markets,
		bus:       bus,
		seq:       seq,
		tradeSeq:  tradeSeq,
		intake:    make(chan intakeItem, 1024),
		meta:      make(map[common.OrderID]orderMeta),
		ocoLinks:  make(map[common.OrderID]common.OrderID),
		log:       log.With().Str("symbol", string(symbol)).Logger(),
	}
}

// Start launches the shard's processing goroutine under t. The shard
// stops when t enters its dying state (spec.md §5).
func (s *Shard) Start(t *tomb.Tomb) {
	s.t = t
	t.Go(s.loop)
}

func (s *Shard) loop() error {
	s.log.Info().Msg("shard starting")
	for {
		if len(s.pending) > 0 {
			item := s.pending[0]
			s.pending = s.pending[1:]
			s.handle(item)
			continue
		}
		select {
		case <-s.t.Dying():
			s.log.Info().Msg("shard stopping")
			return nil
		case item := <-s.intake:
			s.handle(item)
		}
	}
}

func (s *Shard) handle(item intakeItem) {
	if s.faulted {
		s.replyFaulted(item)
		return
	}
	switch item.kind {
	case kindSubmit:
		out := s.processSubmit(item.submit)
		if item.replyOutcome != nil {
			item.replyOutcome <- out
		}
	case kindSubmitOCO:
		pair := s.processSubmitOCO(item.ocoPair)
		if item.replyPair != nil {
			item.replyPair <- pair
		}
	case kindCancel:
		out := s.processCancel(item.cancel)
		if item.replyOutcome != nil {
			item.replyOutcome <- out
		}
	case kindCancelAllUser:
		count := s.processCancelAllForUser(item.cancelAllUser)
		if item.replyCount != nil {
			item.replyCount <- count
		}
	case kindPeek:
		o, ok := s.peekLocal(item.peek)
		if item.replyOutcome != nil {
			if !ok {
				item.replyOutcome <- Outcome{Err: fmt.Errorf("engine: %w", ErrNotCancellable)}
			} else {
				item.replyOutcome <- Outcome{Order: o}
			}
		}
	case kindTrigger:
		s.processTriggered(item.triggered)
	case kindMark:
		s.markPrice = item.mark
		s.evaluateTick(item.mark)
	}
}

// Submit enqueues req and blocks for the shard's verdict. Safe to call
// from any goroutine; the shard itself only ever runs one submission at a
// time.
func (s *Shard) Submit(sub Submission) Outcome {
	reply := make(chan Outcome, 1)
	s.intake <- intakeItem{kind: kindSubmit, submit: &sub, replyOutcome: reply}
	return <-reply
}

// SubmitOCO enqueues both legs of a one-cancels-other pair atomically:
// both are processed by the same shard tick, linked, and if either leg is
// already terminal after its own processing the other is immediately
// cancelled (spec.md §4.F.6).
func (s *Shard) SubmitOCO(a, b Submission) OutcomePair {
	reply := make(chan OutcomePair, 1)
	pair := [2]Submission{a, b}
	s.intake <- intakeItem{kind: kindSubmitOCO, ocoPair: &pair, replyPair: reply}
	return <-reply
}

// Cancel enqueues a cancel request and blocks for the result.
func (s *Shard) Cancel(req CancelRequest) Outcome {
	reply := make(chan Outcome, 1)
	s.intake <- intakeItem{kind: kindCancel, cancel: &req, replyOutcome: reply}
	return <-reply
}

// PeekOrder returns a copy of a live order by id, wherever it currently
// lives (resting in the book or pending-trigger in the conditional set).
// Used by modifyOrder's cancel-then-replace to recover the fields the
// caller did not override (spec.md §6: "modifyOrder ... implemented as
// cancel-then-replace"). Routed through the intake queue like every other
// read of shard-private state (s.conditional) since only the shard's own
// goroutine may touch it without a race.
func (s *Shard) PeekOrder(id common.OrderID) (common.Order, bool) {
	reply := make(chan Outcome, 1)
	s.intake <- intakeItem{kind: kindPeek, peek: id, replyOutcome: reply}
	out := <-reply
	return out.Order, out.Err == nil
}

// peekLocal is the shard-goroutine-only implementation behind PeekOrder.
func (s *Shard) peekLocal(id common.OrderID) (common.Order, bool) {
	if o, ok := s.book.Peek(id); ok {
		return *o, true
	}
	if _, co := s.findConditional(id); co != nil {
		return *co.order, true
	}
	return common.Order{}, false
}

// CancelAllForUser cancels every resting and pending-trigger order owned
// by userID on this shard's symbol, returning the number cancelled
// (spec.md §6: "cancelAll(userId, symbol?) -> count").
func (s *Shard) CancelAllForUser(userID common.UserID) int {
	reply := make(chan int, 1)
	s.intake <- intakeItem{kind: kindCancelAllUser, cancelAllUser: userID, replyCount: reply}
	return <-reply
}

// BookSnapshot returns up to depth aggregate book levels per side. Reads
// are safe to call directly, bypassing the intake queue, since
// book.Snapshot takes its own read lock and external consumers only need
// a consistent-at-some-instant view (spec.md §5: "Reads for snapshots use
// a per-symbol consistent snapshot").
func (s *Shard) BookSnapshot(depth int) book.Snapshot {
	return s.book.Snapshot(depth)
}

// OnMarkPrice tells the shard about a new mark price for its symbol, for
// trailing-stop and conditional-order evaluation (spec.md §4.F.7). It
// does not wait for the shard to process the tick — the shard
// incorporates it at its own pace, preserving single-writer ordering —
// but the send blocks while the intake queue is full.
func (s *Shard) OnMarkPrice(mark decimalx.Decimal) {
	s.intake <- intakeItem{kind: kindMark, mark: mark}
}

// Resubmit is called by the Liquidation Engine to push a forced closing
// order onto this shard's intake (spec.md §4.J: "submits a closing Market
// order back onto the owning shard's intake").
func (s *Shard) Resubmit(sub Submission) Outcome {
	return s.Submit(sub)
}

func (s *Shard) processCancel(req *CancelRequest) Outcome {
	if o, ok := s.book.RemoveOrder(req.OrderID); ok {
		if o.UserID != req.UserID {
			s.book.AddResting(o)
			return Outcome{Err: fmt.Errorf("engine: order %d not owned by %s", req.OrderID, req.UserID)}
		}
		o.Status = common.Cancelled
		s.finalizeIfTerminal(o)
		s.publishCancelled(o, "user_cancel")
		s.unlinkIfTerminalOCO(o)
		return Outcome{Order: *o}
	}

	if idx, co := s.findConditional(req.OrderID); co != nil {
		if co.order.UserID != req.UserID {
			return Outcome{Err: fmt.Errorf("engine: order %d not owned by %s", req.OrderID, req.UserID)}
		}
		s.conditional = append(s.conditional[:idx], s.conditional[idx+1:]...)
		co.order.Status = common.Cancelled
		s.finalizeIfTerminal(co.order)
		s.publishCancelled(co.order, "user_cancel")
		s.unlinkIfTerminalOCO(co.order)
		return Outcome{Order: *co.order}
	}

	return Outcome{Err: fmt.Errorf("engine: %w", ErrNotCancellable)}
}

// processCancelAllForUser cancels every order userID has live on this
// shard, whether resting in the book or pending-trigger in the
// conditional set (spec.md §6).
func (s *Shard) processCancelAllForUser(userID common.UserID) int {
	count := 0
	for _, o := range s.book.OrdersForUser(userID) {
		if _, ok := s.book.RemoveOrder(o.OrderID); ok {
			o.Status = common.Cancelled
			s.finalizeIfTerminal(o)
			s.publishCancelled(o, "cancel_all")
			s.unlinkIfTerminalOCO(o)
			count++
		}
	}
	for i := len(s.conditional) - 1; i >= 0; i-- {
		co := s.conditional[i]
		if co.order.UserID != userID {
			continue
		}
		s.conditional = append(s.conditional[:i], s.conditional[i+1:]...)
		co.order.Status = common.Cancelled
		s.finalizeIfTerminal(co.order)
		s.publishCancelled(co.order, "cancel_all")
		s.unlinkIfTerminalOCO(co.order)
		count++
	}
	return count
}

func (s *Shard) findConditional(id common.OrderID) (int, *conditionalOrder) {
	for i, co := range s.conditional {
		if co.order.OrderID == id {
			return i, co
		}
	}
	return -1, nil
}

// finalizeIfTerminal commits the proportional share of an order's wallet
// hold once it reaches a terminal status, releasing the rest (spec.md §5:
// two-phase reservation, commit or release).
func (s *Shard) finalizeIfTerminal(o *common.Order) {
	if !o.Status.IsTerminal() {
		return
	}
	meta, ok := s.meta[o.OrderID]
	if !ok || !meta.HasHold {
		return
	}
	proportion := decimalx.Zero
	if !o.Quantity.IsZero() {
		proportion = o.FilledQty.Div(o.Quantity)
	}
	used := meta.Hold.Amount().Mul(proportion)
	s.wallets.CommitPartial(meta.Hold, used)
	delete(s.meta, o.OrderID)
}

func (s *Shard) unlinkIfTerminalOCO(o *common.Order) {
	if o.HasOCOLink && o.Status.IsTerminal() {
		s.unlinkOCO(o.OrderID)
	}
}

// unlinkOCO cancels id's linked leg, wherever it currently lives (spec.md
// §4.F.6).
func (s *Shard) unlinkOCO(id common.OrderID) {
	other, ok := s.ocoLinks[id]
	if !ok {
		return
	}
	delete(s.ocoLinks, id)
	delete(s.ocoLinks, other)

	if o, ok := s.book.RemoveOrder(other); ok {
		o.Status = common.Cancelled
		s.finalizeIfTerminal(o)
		s.publishCancelled(o, "oco")
		return
	}
	if idx, co := s.findConditional(other); co != nil {
		s.conditional = append(s.conditional[:idx], s.conditional[idx+1:]...)
		co.order.Status = common.Cancelled
		s.finalizeIfTerminal(co.order)
		s.publishCancelled(co.order, "oco")
	}
}

func (s *Shard) publishCancelled(o *common.Order, reason string) {
	s.bus.Publish(events.OrderCancelled, events.OrderCancelledPayload{
		OrderID: o.OrderID, UserID: o.UserID, Symbol: o.Symbol, Reason: reason,
	})
}

func (s *Shard) publishRejected(o *common.Order) {
	s.bus.Publish(events.OrderRejected, events.OrderRejectedPayload{
		OrderID: o.OrderID, UserID: o.UserID, Symbol: o.Symbol, Reason: o.RejectReason,
	})
}

// fault stops the shard after an internal invariant breach (spec.md §7):
// it publishes ShardFault and marks the shard faulted so every later
// intake item is refused rather than advancing matching state further.
// The book and position state are left as they were when the breach was
// detected, including the match that caused it; no earlier snapshot is
// kept. Idempotent — only the first breach is published.
func (s *Shard) fault(detail string) {
	if s.faulted {
		return
	}
	s.faulted = true
	s.log.Error().Str("detail", detail).Msg("shard fault: invariant breach, stopping shard")
	s.bus.Publish(events.ShardFault, events.ShardFaultPayload{Symbol: s.symbol, Detail: detail})
}

// replyFaulted answers any intake item with a faulted error once the
// shard has stopped, instead of leaving callers blocked forever on a
// reply that will never otherwise arrive.
func (s *Shard) replyFaulted(item intakeItem) {
	err := fmt.Errorf("engine: shard %s has faulted and is awaiting operator intervention", s.symbol)
	switch {
	case item.replyOutcome != nil:
		item.replyOutcome <- Outcome{Err: err}
	case item.replyPair != nil:
		item.replyPair <- OutcomePair{A: Outcome{Err: err}, B: Outcome{Err: err}}
	case item.replyCount != nil:
		item.replyCount <- 0
	}
}

// ErrNotCancellable is returned when a cancel targets an order that is
// not resting or pending-trigger on this shard.
var ErrNotCancellable = fmt.Errorf("order is not cancellable")
