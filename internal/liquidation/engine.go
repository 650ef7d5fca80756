package liquidation

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/engine"
	"nyxex/internal/events"
	"nyxex/internal/margin"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// Engine drains a Queue under its own tomb.Tomb mailbox, the way the
// matching engine's Shard supervises its intake — a separate goroutine so
// a slow liquidation never blocks the Risk Monitor's mark-price walk.
type Engine struct {
	queue     *Queue
	positions *position.Book
	wallets   *wallet.Wallet
	markets   *market.Registry
	matching  *engine.Engine
	fund      *wallet.InsuranceFund
	bus       *events.Bus

	maxRetries int

	t   *tomb.Tomb
	log zerolog.Logger
}

// New constructs a Liquidation Engine. maxRetries bounds how many times a
// close is submitted while the owning shard replies with an error, before
// LiquidationFailed is emitted (spec.md §7). A full shard intake queue is
// not retried: the submission blocks until the shard has room.
func New(queue *Queue, positions *position.Book, wallets *wallet.Wallet, markets *market.Registry, matching *engine.Engine, fund *wallet.InsuranceFund, bus *events.Bus, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		queue:      queue,
		positions:  positions,
		wallets:    wallets,
		markets:    markets,
		matching:   matching,
		fund:       fund,
		bus:        bus,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "liquidation").Logger(),
	}
}

// Start launches the drain loop under t.
func (e *Engine) Start(t *tomb.Tomb) {
	e.t = t
	t.Go(e.loop)
}

func (e *Engine) loop() error {
	e.log.Info().Msg("liquidation engine starting")
	for {
		select {
		case <-e.t.Dying():
			e.log.Info().Msg("liquidation engine stopping")
			return nil
		case req := <-e.queue.Chan():
			e.process(req)
		}
	}
}

// process implements spec.md §4.J for one request.
func (e *Engine) process(req Request) {
	before := e.positions.Get(req.UserID, req.Symbol)
	if before.Side == common.Flat {
		// Already closed (e.g. user closed manually between enqueue and
		// drain) — the Closing guard already prevented a duplicate
		// enqueue, this just avoids acting on stale state.
		return
	}

	closeSide := common.Sell
	if before.Side == common.Short {
		closeSide = common.Buy
	}

	out, err := e.submitCloseWithRetry(req.Symbol, req.UserID, closeSide, before.Quantity)
	if err != nil {
		e.log.Error().Err(err).Str("user", string(req.UserID)).Str("symbol", string(req.Symbol)).Msg("liquidation close failed")
		e.bus.Publish(events.LiquidationFailed, events.LiquidationFailedPayload{
			UserID: req.UserID, Symbol: req.Symbol, Detail: err.Error(),
		})
		return
	}

	e.settle(req, before, out)
}

func (e *Engine) submitCloseWithRetry(symbol common.Symbol, user common.UserID, side common.Side, qty decimalx.Decimal) (engine.Outcome, error) {
	sh, ok := e.matching.Shard(symbol)
	if !ok {
		return engine.Outcome{}, errNoShard(symbol)
	}

	var out engine.Outcome
	var err error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		out = sh.Resubmit(engine.Submission{
			Order: common.Order{
				UserID:      user,
				Symbol:      symbol,
				Side:        side,
				Type:        common.Market,
				Quantity:    qty,
				TimeInForce: common.IOC,
				Flags:       common.Flags{ReduceOnly: true, ClosePosition: true},
			},
		})
		if out.Err == nil {
			return out, nil
		}
		err = out.Err
	}
	return out, err
}

// settle applies the close's financial result: credits any surplus to the
// user, debits the insurance fund on shortfall, and runs ADL if the fund
// cannot cover it (spec.md §4.J).
func (e *Engine) settle(req Request, before position.Position, out engine.Outcome) {
	mkt, ok := e.markets.Snapshot(req.Symbol)
	if !ok {
		return
	}
	quote := wallet.Asset(mkt.QuoteAsset)

	after := e.positions.Get(req.UserID, req.Symbol)
	realizedDelta := after.RealizedPnl.Sub(before.RealizedPnl)

	fees := decimalx.Zero
	var closePrice decimalx.Decimal
	for _, t := range out.Trades {
		fees = fees.Add(t.TakerFee)
		closePrice = t.Price
	}

	equity := before.IsolatedMargin
	if before.MarginMode == common.Cross {
		equity = e.wallets.Equity(req.UserID, quote)
	}
	finalEquity := equity.Add(realizedDelta).Sub(fees)

	insuranceDebit := decimalx.Zero
	adlApplied := false
	switch {
	case finalEquity.LessThan(decimalx.Zero):
		shortfall := finalEquity.Neg()
		covered, full := e.fund.DrawDown(shortfall)
		insuranceDebit = covered
		if !full {
			adlApplied = e.runADL(req.Symbol, shortfall.Sub(covered), req.UserID)
		}
	case finalEquity.GreaterThan(decimalx.Zero):
		e.wallets.Credit(req.UserID, quote, finalEquity)
	}

	e.positions.FinishLiquidation(req.UserID, req.Symbol)
	e.bus.Publish(events.Liquidated, events.LiquidatedPayload{
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		ClosePrice:     closePrice,
		InsuranceDebit: insuranceDebit,
		ADLApplied:     adlApplied,
	})
}

// runADL ranks every other open position on symbol by (leverage desc,
// unrealizedPnL desc) and force-closes winners at their bankruptcy price
// until shortfall is covered (spec.md §4.J). Returns whether any
// counterparty was force-closed.
func (e *Engine) runADL(symbol common.Symbol, shortfall decimalx.Decimal, exclude common.UserID) bool {
	type candidate struct {
		pos  position.Position
		uPnl decimalx.Decimal
	}

	var candidates []candidate
	for _, p := range e.positions.ForSymbol(symbol) {
		if p.Side == common.Flat || p.Status != common.PositionOpen || p.UserID == exclude {
			continue
		}
		u := margin.UnrealizedPnL(margin.Input{
			Side: p.Side, Quantity: p.Quantity, EntryPrice: p.EntryPrice, MarkPrice: p.MarkPrice,
		})
		if u.LessThanOrEqual(decimalx.Zero) {
			continue
		}
		candidates = append(candidates, candidate{pos: p, uPnl: u})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].pos.Leverage != candidates[j].pos.Leverage {
			return candidates[i].pos.Leverage > candidates[j].pos.Leverage
		}
		return candidates[i].uPnl.GreaterThan(candidates[j].uPnl)
	})

	remaining := shortfall
	applied := false
	for _, c := range candidates {
		if remaining.LessThanOrEqual(decimalx.Zero) {
			break
		}
		bankruptcy := margin.BankruptcyPrice(c.pos.Side, c.pos.EntryPrice, c.pos.Leverage, c.pos.Quantity, decimalx.Zero)
		closeSide := common.Sell
		if c.pos.Side == common.Short {
			closeSide = common.Buy
		}
		e.positions.Apply(c.pos.UserID, symbol, position.FillApplication{
			Side: closeSide, Price: bankruptcy, Qty: c.pos.Quantity,
		}, decimalx.Zero, c.pos.Leverage, c.pos.MarginMode, decimalx.Zero)
		e.positions.FinishLiquidation(c.pos.UserID, symbol)

		e.bus.Publish(events.Liquidated, events.LiquidatedPayload{
			UserID: c.pos.UserID, Symbol: symbol, ClosePrice: bankruptcy, ADLApplied: true,
		})

		remaining = remaining.Sub(c.uPnl)
		applied = true
	}
	return applied
}

type shardLookupError struct {
	symbol common.Symbol
}

func (e shardLookupError) Error() string {
	return "liquidation: no shard for symbol " + string(e.symbol)
}

func errNoShard(symbol common.Symbol) error {
	return shardLookupError{symbol: symbol}
}
