// Package exchange is the composition root and control-plane facade of
// spec.md §6: it wires the Market Registry, Wallet, Position Book, Order
// Validator, Matching Engine, Price Feed, Risk Monitor, Liquidation
// Engine, and Insurance Fund together and exposes exactly the narrow,
// transport-agnostic API §6 names (submitOrder, cancelOrder,
// modifyOrder, cancelAll, getOrderBook, getPosition, onMarkPrice). It is
// new code required to satisfy §6 — no single teacher file plays this
// role — but the composition pattern (one struct holding every subsystem,
// built by a New that wires them in dependency order, started under one
// supervisor) is grounded on 0xtitan6-polymarket-mm's
// internal/engine/engine.go ("Engine orchestrates all components... New
// creates and wires all engine components").
package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/book"
	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/engine"
	"nyxex/internal/events"
	"nyxex/internal/feed"
	"nyxex/internal/liquidation"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/risk"
	"nyxex/internal/validator"
	"nyxex/internal/wallet"
)

// Limits bounds the per-user and global open-order caps the Validator
// enforces (spec.md §4.D.6). The facade is the authoritative counter
// the validator package's doc comment defers to ("the caller ... owns
// the authoritative count").
type Limits struct {
	UserOpenOrderCap   int
	GlobalOpenOrderCap int
}

// Config bundles the construction-time parameters New needs beyond the
// components it builds itself.
type Config struct {
	Limits             Limits
	InsuranceFundSeed  decimalx.Decimal
	LiquidationRetries int
	WarningMarginRatio decimalx.Decimal // e.g. 0.8 for an 80%-of-breach MarginCall
}

// Exchange is the single entry point external adapters (gateway, admin
// RPC, CLI) call into. It holds no transport-specific state.
type Exchange struct {
	cfg Config

	Markets   *market.Registry
	Wallets   *wallet.Wallet
	Positions *position.Book
	Bus       *events.Bus
	Feed      *feed.Ingress
	Fund      *wallet.InsuranceFund

	matching    *engine.Engine
	liqQueue    *liquidation.Queue
	liqEngine   *liquidation.Engine
	riskMonitor *risk.Monitor

	t   *tomb.Tomb
	log zerolog.Logger

	mu          sync.Mutex
	orderSymbol map[common.OrderID]common.Symbol

	idemMu sync.Mutex
	idem   map[idemKey]SubmitResult

	counters *openOrderCounters
}

type idemKey struct {
	user common.UserID
	id   string
}

// New wires every subsystem and returns an Exchange ready for CreateMarket
// calls; Start must be called once markets exist to begin processing
// mark-price ticks and liquidations.
func New(t *tomb.Tomb, cfg Config) *Exchange {
	bus := events.NewBus()
	markets := market.New(bus)
	wallets := wallet.New()
	positions := position.New(bus)
	fund := wallet.NewInsuranceFund(cfg.InsuranceFundSeed)
	matching := engine.New(t, positions, wallets, markets, bus)
	feedIngress := feed.New(bus)
	liqQueue := liquidation.NewQueue(0)

	warning := cfg.WarningMarginRatio
	if warning.IsZero() {
		warning = decimalx.BasisPoints(8000) // 80%
	}

	x := &Exchange{
		cfg:         cfg,
		Markets:     markets,
		Wallets:     wallets,
		Positions:   positions,
		Bus:         bus,
		Feed:        feedIngress,
		Fund:        fund,
		matching:    matching,
		liqQueue:    liqQueue,
		t:           t,
		log:         log.With().Str("component", "exchange").Logger(),
		orderSymbol: make(map[common.OrderID]common.Symbol),
		idem:        make(map[idemKey]SubmitResult),
		counters:    newOpenOrderCounters(),
	}

	x.liqEngine = liquidation.New(liqQueue, positions, wallets, markets, matching, fund, bus, cfg.LiquidationRetries)
	x.riskMonitor = risk.New(positions, markets, wallets, bus, liqQueue, warning)
	return x
}

// Start launches the Risk Monitor, the Liquidation Engine, the mark-price
// forwarder, and the open-order counter under t. Call once, after markets
// are created.
func (x *Exchange) Start(t *tomb.Tomb) {
	x.riskMonitor.Start(t)
	x.liqEngine.Start(t)
	t.Go(x.forwardMarkPrices(t))
	t.Go(x.counters.run(x.Bus, t))
}

// forwardMarkPrices relays accepted ticks from the Price Feed Ingress to
// each symbol's shard, for trailing-stop/conditional-order evaluation
// (spec.md §4.F.7). The Risk Monitor subscribes to the same
// MarkPriceUpdated topic independently (spec.md §4.I).
func (x *Exchange) forwardMarkPrices(t *tomb.Tomb) func() error {
	return func() error {
		ch, unsub := x.Bus.Subscribe(events.MarkPriceUpdated)
		defer unsub()
		for {
			select {
			case <-t.Dying():
				return nil
			case raw := <-ch:
				p, ok := raw.(events.MarkPriceUpdatedPayload)
				if !ok {
					continue
				}
				if sh, ok := x.matching.Shard(p.Symbol); ok {
					sh.OnMarkPrice(p.Mark)
				}
			}
		}
	}
}

// CreateMarket registers a new symbol with the registry and starts its
// matching shard in one call, since the two are never meaningfully
// separate from an operator's point of view.
func (x *Exchange) CreateMarket(m market.Market) error {
	if err := x.Markets.CreateMarket(m); err != nil {
		return err
	}
	x.matching.CreateShard(m.Symbol)
	x.log.Info().Str("symbol", string(m.Symbol)).Msg("market created")
	return nil
}

// LiquidationQueue exposes the queue the Risk Monitor feeds, for
// operators/tests that want to watch or drive it directly.
func (x *Exchange) LiquidationQueue() *liquidation.Queue { return x.liqQueue }

// --- submitOrder -----------------------------------------------------

// SubmitRequest is the caller-facing order intent (spec.md §6:
// "submitOrder(req)").
type SubmitRequest struct {
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
	OCO           *validator.OCOLeg
}

// SubmitResult is the caller-facing outcome (spec.md §6:
// "{orderId, status, fills[], rejectReason?}").
type SubmitResult struct {
	OrderID      common.OrderID
	LinkedID     common.OrderID // set only for an accepted OCO pair's second leg
	Status       common.OrderStatus
	Fills        []common.Trade
	RejectReason common.Reason
}

// SubmitOrder validates req, reserves its wallet margin, and admits it to
// its symbol's shard — or the OCO pair's two shards' worth of admission
// in one atomic shard tick if req.OCO is set (spec.md §4.F.6). Repeating
// a ClientOrderID returns the cached original result without resubmitting
// (spec.md §6: "not idempotent unless req.clientOrderId supplied, in
// which case a repeated clientOrderId returns the original result").
func (x *Exchange) SubmitOrder(req SubmitRequest) SubmitResult {
	if req.ClientOrderID != "" {
		key := idemKey{user: req.UserID, id: req.ClientOrderID}
		x.idemMu.Lock()
		if cached, ok := x.idem[key]; ok {
			x.idemMu.Unlock()
			return cached
		}
		x.idemMu.Unlock()
	}

	var result SubmitResult
	if req.OCO != nil {
		result = x.submitOCO(req)
	} else {
		result = x.submitSingle(req)
	}

	if req.ClientOrderID != "" {
		key := idemKey{user: req.UserID, id: req.ClientOrderID}
		x.idemMu.Lock()
		x.idem[key] = result
		x.idemMu.Unlock()
	}
	return result
}

func (x *Exchange) snapshotsFor(req SubmitRequest) (market.Snapshot, map[wallet.Asset]wallet.Balance, position.Position, decimalx.Decimal, bool) {
	mkt, ok := x.Markets.Snapshot(req.Symbol)
	if !ok {
		return market.Snapshot{}, nil, position.Position{}, decimalx.Zero, false
	}
	balances := x.Wallets.Snapshot(req.UserID)
	pos := x.Positions.Get(req.UserID, req.Symbol)
	mark := decimalx.Zero
	if tick, ok := x.Feed.Latest(req.Symbol); ok {
		mark = tick.Mark
	}
	return mkt, balances, pos, mark, true
}

func (x *Exchange) limitsFor(req SubmitRequest) validator.Limits {
	return validator.Limits{
		UserOpenOrders:     x.counters.forUser(req.UserID),
		UserOpenOrderCap:   x.cfg.Limits.UserOpenOrderCap,
		GlobalOpenOrders:   x.counters.globalCount(),
		GlobalOpenOrderCap: x.cfg.Limits.GlobalOpenOrderCap,
	}
}

func (x *Exchange) submitSingle(req SubmitRequest) SubmitResult {
	mkt, balances, pos, mark, ok := x.snapshotsFor(req)
	if !ok {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonMarketClosed}
	}

	vreq := toValidatorRequest(req)
	normalized, reasons, err := validator.Validate(vreq, mkt, balances, pos, x.limitsFor(req), mark, time.Now())
	if err != nil || len(reasons) > 0 {
		reason := common.ReasonValidation
		if len(reasons) > 0 {
			reason = reasons[0]
		}
		x.publishValidationReject(req, reason)
		return SubmitResult{Status: common.Rejected, RejectReason: reason}
	}

	hold, err := x.Wallets.Reserve(req.UserID, normalized.ReserveAsset, normalized.ReserveAmount)
	if err != nil {
		x.publishValidationReject(req, common.ReasonInsufficientBalance)
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonInsufficientBalance}
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	sh, ok := x.matching.Shard(req.Symbol)
	if !ok {
		x.Wallets.Release(hold)
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonMarketClosed}
	}

	out := sh.Submit(engine.Submission{
		Order:      normalized.Order,
		Hold:       hold,
		HasHold:    true,
		Leverage:   leverage,
		MarginMode: req.MarginMode,
	})
	if out.Err != nil {
		x.Wallets.Release(hold)
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonInternal}
	}

	x.recordOrderSymbol(out.Order.OrderID, req.Symbol)
	return SubmitResult{
		OrderID:      out.Order.OrderID,
		Status:       out.Order.Status,
		Fills:        out.Trades,
		RejectReason: out.Order.RejectReason,
	}
}

// submitOCO validates both legs of a one-cancels-other pair before
// reserving either leg's margin, so a rejected secondary leg never
// leaves the primary's funds needlessly locked (spec.md §4.D.12,
// §4.F.6).
func (x *Exchange) submitOCO(req SubmitRequest) SubmitResult {
	mkt, balances, pos, mark, ok := x.snapshotsFor(req)
	if !ok {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonMarketClosed}
	}

	primaryReq := toValidatorRequest(req)
	secondaryReq := validator.Request{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Side:        req.OCO.Side,
		Type:        req.OCO.Type,
		Quantity:    req.Quantity,
		Price:       req.OCO.Price,
		StopPrice:   req.OCO.StopPrice,
		TimeInForce: req.TimeInForce,
		Flags:       common.Flags{ReduceOnly: req.Flags.ReduceOnly},
		Leverage:    req.Leverage,
		MarginMode:  req.MarginMode,
	}

	limits := x.limitsFor(req)
	normA, reasonsA, errA := validator.Validate(primaryReq, mkt, balances, pos, limits, mark, time.Now())
	if errA != nil || len(reasonsA) > 0 {
		reason := firstReason(reasonsA)
		x.publishValidationReject(req, reason)
		return SubmitResult{Status: common.Rejected, RejectReason: reason}
	}
	normB, reasonsB, errB := validator.Validate(secondaryReq, mkt, balances, pos, limits, mark, time.Now())
	if errB != nil || len(reasonsB) > 0 {
		reason := firstReason(reasonsB)
		x.publishValidationReject(req, reason)
		return SubmitResult{Status: common.Rejected, RejectReason: reason}
	}

	holdA, err := x.Wallets.Reserve(req.UserID, normA.ReserveAsset, normA.ReserveAmount)
	if err != nil {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonInsufficientBalance}
	}
	holdB, err := x.Wallets.Reserve(req.UserID, normB.ReserveAsset, normB.ReserveAmount)
	if err != nil {
		x.Wallets.Release(holdA)
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonInsufficientBalance}
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	sh, ok := x.matching.Shard(req.Symbol)
	if !ok {
		x.Wallets.Release(holdA)
		x.Wallets.Release(holdB)
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonMarketClosed}
	}

	pair := sh.SubmitOCO(
		engine.Submission{Order: normA.Order, Hold: holdA, HasHold: true, Leverage: leverage, MarginMode: req.MarginMode},
		engine.Submission{Order: normB.Order, Hold: holdB, HasHold: true, Leverage: leverage, MarginMode: req.MarginMode},
	)

	x.recordOrderSymbol(pair.A.Order.OrderID, req.Symbol)
	x.recordOrderSymbol(pair.B.Order.OrderID, req.Symbol)

	return SubmitResult{
		OrderID:      pair.A.Order.OrderID,
		LinkedID:     pair.B.Order.OrderID,
		Status:       pair.A.Order.Status,
		Fills:        pair.A.Trades,
		RejectReason: pair.A.Order.RejectReason,
	}
}

func firstReason(reasons []common.Reason) common.Reason {
	if len(reasons) == 0 {
		return common.ReasonValidation
	}
	return reasons[0]
}

func toValidatorRequest(req SubmitRequest) validator.Request {
	return validator.Request{
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		Flags:         req.Flags,
		Leverage:      req.Leverage,
		MarginMode:    req.MarginMode,
		Trailing:      req.Trailing,
		OCO:           req.OCO,
	}
}

func (x *Exchange) publishValidationReject(req SubmitRequest, reason common.Reason) {
	x.Bus.Publish(events.OrderRejected, events.OrderRejectedPayload{
		UserID: req.UserID, Symbol: req.Symbol, Reason: reason,
	})
}

func (x *Exchange) recordOrderSymbol(id common.OrderID, symbol common.Symbol) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.orderSymbol[id] = symbol
}

func (x *Exchange) symbolFor(id common.OrderID) (common.Symbol, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, ok := x.orderSymbol[id]
	return s, ok
}

// --- cancelOrder / modifyOrder / cancelAll ----------------------------

// CancelResult is the caller-facing reply (spec.md §6:
// "{cancelled: bool, reason?}").
type CancelResult struct {
	Cancelled bool
	Reason    common.Reason
}

// CancelOrder cancels orderID if userID owns it. Cancelling an unknown or
// already-terminal order is a no-op returning NotCancellable/NotFound
// rather than an error (spec.md §6, §8: "idempotent cancel").
func (x *Exchange) CancelOrder(userID common.UserID, orderID common.OrderID) CancelResult {
	symbol, ok := x.symbolFor(orderID)
	if !ok {
		return CancelResult{Cancelled: false, Reason: common.ReasonNotFound}
	}
	out := x.matching.Cancel(symbol, engine.CancelRequest{OrderID: orderID, UserID: userID})
	if out.Err != nil {
		return CancelResult{Cancelled: false, Reason: common.ReasonNotCancellable}
	}
	return CancelResult{Cancelled: true}
}

// ModifyRequest carries the optional overrides modifyOrder may apply.
type ModifyRequest struct {
	Price     *decimalx.Decimal
	Quantity  *decimalx.Decimal
	StopPrice *decimalx.Decimal
}

// ModifyOrder cancels orderID and resubmits it with any supplied
// overrides applied, losing time priority (spec.md §6: "implemented as
// cancel-then-replace; loses time priority").
func (x *Exchange) ModifyOrder(userID common.UserID, orderID common.OrderID, mod ModifyRequest) SubmitResult {
	symbol, ok := x.symbolFor(orderID)
	if !ok {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonNotFound}
	}
	sh, ok := x.matching.Shard(symbol)
	if !ok {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonNotFound}
	}
	orig, ok := sh.PeekOrder(orderID)
	if !ok || orig.UserID != userID {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonNotCancellable}
	}

	cancelOut := x.matching.Cancel(symbol, engine.CancelRequest{OrderID: orderID, UserID: userID})
	if cancelOut.Err != nil {
		return SubmitResult{Status: common.Rejected, RejectReason: common.ReasonNotCancellable}
	}

	price, stopPrice, qty := orig.Price, orig.StopPrice, orig.Quantity
	if mod.Price != nil {
		price = *mod.Price
	}
	if mod.StopPrice != nil {
		stopPrice = *mod.StopPrice
	}
	if mod.Quantity != nil {
		qty = *mod.Quantity
	}

	return x.SubmitOrder(SubmitRequest{
		UserID:      orig.UserID,
		Symbol:      symbol,
		Side:        orig.Side,
		Type:        orig.Type,
		Quantity:    qty,
		Price:       price,
		StopPrice:   stopPrice,
		TimeInForce: orig.TimeInForce,
		Flags:       orig.Flags,
		Trailing:    orig.Trailing,
	})
}

// CancelAll cancels every live order userID owns, optionally scoped to
// symbol, and returns the count cancelled (spec.md §6:
// "cancelAll(userId, symbol?) -> count").
func (x *Exchange) CancelAll(userID common.UserID, symbol *common.Symbol) int {
	return x.matching.CancelAllForUser(userID, symbol)
}

// --- reads -------------------------------------------------------------

// GetOrderBook returns up to depth aggregate levels per side for symbol
// (spec.md §6: "getOrderBook(symbol, depth) -> snapshot").
func (x *Exchange) GetOrderBook(symbol common.Symbol, depth int) (book.Snapshot, error) {
	snap, ok := x.matching.OrderBookSnapshot(symbol, depth)
	if !ok {
		return book.Snapshot{}, fmt.Errorf("exchange: unknown symbol %s", symbol)
	}
	return snap, nil
}

// GetPosition returns userID's position(s), optionally scoped to one
// symbol (spec.md §6: "getPosition(userId, symbol?) -> positions[]").
func (x *Exchange) GetPosition(userID common.UserID, symbol *common.Symbol) []position.Position {
	return x.Positions.ForUser(userID, symbol)
}

// OnMarkPrice is the ingress for the external price-feed adapter (spec.md
// §6: "onMarkPrice(symbol, {bid, ask, mark, ts})").
func (x *Exchange) OnMarkPrice(symbol common.Symbol, bid, ask, mark decimalx.Decimal, ts int64) error {
	return x.Feed.OnTick(feed.Tick{Symbol: symbol, Bid: bid, Ask: ask, Mark: mark, Ts: ts})
}
