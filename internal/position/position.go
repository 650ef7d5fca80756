// Package position implements the Position Book (spec.md §2 component G,
// §4.G): per-(user,symbol) aggregated positions, their weighted average
// entry price, realized/unrealized PnL, and liquidation price, recomputed
// on every fill.
package position

import (
	"sync"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/events"
	"nyxex/internal/margin"
)

// Position is the per-(userID,symbol) aggregate of spec.md §3.
type Position struct {
	UserID         common.UserID
	Symbol         common.Symbol
	Side           common.PositionSide
	Quantity       decimalx.Decimal
	EntryPrice     decimalx.Decimal
	MarkPrice      decimalx.Decimal
	MarginMode     common.MarginMode
	Leverage       int
	IsolatedMargin decimalx.Decimal
	RealizedPnl    decimalx.Decimal
	LiquidationPrice decimalx.Decimal
	Status         common.PositionStatus
}

// FillApplication is the subset of a Trade that Apply needs (either side
// of a match applies its own view).
type FillApplication struct {
	Side  common.Side // the side of the order this fill belongs to
	Price decimalx.Decimal
	Qty   decimalx.Decimal
}

type key struct {
	user   common.UserID
	symbol common.Symbol
}

// Book is the concurrency-safe store of every user's positions, one
// mutex-guarded map as befits a single-process core (the per-symbol shard
// already serializes writers for a given symbol; Book additionally
// guards cross-symbol reads like getPosition(userId) with no symbol
// filter).
type Book struct {
	mu        sync.RWMutex
	positions map[key]*Position
	bus       *events.Bus
}

// New creates an empty Position Book.
func New(bus *events.Bus) *Book {
	return &Book{positions: make(map[key]*Position), bus: bus}
}

// Get returns a copy of a user's position on symbol, creating a Flat
// placeholder if none exists yet.
func (b *Book) Get(user common.UserID, symbol common.Symbol) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[key{user, symbol}]; ok {
		return *p
	}
	return Position{UserID: user, Symbol: symbol, Side: common.Flat, Status: common.PositionOpen}
}

// ForUser returns a copy of every position a user holds, optionally
// filtered to one symbol (spec.md §6: "getPosition(userId, symbol?)").
func (b *Book) ForUser(user common.UserID, symbol *common.Symbol) []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Position
	for k, p := range b.positions {
		if k.user != user {
			continue
		}
		if symbol != nil && k.symbol != *symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ForSymbol returns a copy of every position open on symbol — used by the
// Risk Monitor to walk all positions on a mark-price tick (spec.md §4.I).
func (b *Book) ForSymbol(symbol common.Symbol) []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Position
	for k, p := range b.positions {
		if k.symbol == symbol {
			out = append(out, *p)
		}
	}
	return out
}

// UpdateMark sets a position's mark price and recomputes its liquidation
// price, without touching quantity/entry (spec.md §4.I.1).
func (b *Book) UpdateMark(user common.UserID, symbol common.Symbol, mark decimalx.Decimal, maintenanceRate decimalx.Decimal, equity decimalx.Decimal) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[key{user, symbol}]
	if !ok || p.Side == common.Flat {
		return Position{}, false
	}
	p.MarkPrice = mark
	p.LiquidationPrice = b.recomputeLiquidationPriceLocked(p, maintenanceRate, equity)
	cp := *p
	b.publish(cp)
	return cp, true
}

// Apply folds a fill into the position for (user,symbol), implementing
// the rules of spec.md §4.G: same-side weighted-average add, opposite-
// side reduction with realized PnL, and flip-to-opposite-side residue
// opening a new position at the fill price.
func (b *Book) Apply(user common.UserID, symbol common.Symbol, fill FillApplication, maintenanceRate decimalx.Decimal, leverage int, mode common.MarginMode, equity decimalx.Decimal) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{user, symbol}
	p, ok := b.positions[k]
	if !ok {
		p = &Position{UserID: user, Symbol: symbol, Side: common.Flat, MarginMode: mode, Leverage: leverage, Status: common.PositionOpen}
		b.positions[k] = p
	}

	fillSide := common.FromSide(fill.Side)

	switch {
	case p.Side == common.Flat:
		// Opening: position.side = fill side; qty = fillQty; entryPrice = fillPrice.
		p.Side = fillSide
		p.Quantity = fill.Qty
		p.EntryPrice = fill.Price
		p.MarkPrice = fill.Price
		p.Status = common.PositionOpen

	case p.Side == fillSide:
		// Same-side add: new entryPrice = weighted average; qty += fillQty.
		totalQty := p.Quantity.Add(fill.Qty)
		weighted := p.EntryPrice.Mul(p.Quantity).Add(fill.Price.Mul(fill.Qty))
		p.EntryPrice = weighted.Div(totalQty)
		p.Quantity = totalQty

	default:
		// Opposite fill (reducing).
		reduceQty := decimalx.Min(fill.Qty, p.Quantity)
		pnl := fill.Price.Sub(p.EntryPrice).Mul(reduceQty)
		if p.Side == common.Short {
			pnl = pnl.Neg()
		}
		p.RealizedPnl = p.RealizedPnl.Add(pnl)
		p.Quantity = p.Quantity.Sub(reduceQty)

		residue := fill.Qty.Sub(reduceQty)
		if p.Quantity.IsZero() {
			if residue.IsZero() {
				p.Side = common.Flat
				p.Status = common.PositionClosed
				p.EntryPrice = decimalx.Zero
			} else {
				// Residue opens a position on the opposite side at the
				// fill price (spec.md §4.G).
				p.Side = fillSide
				p.Quantity = residue
				p.EntryPrice = fill.Price
				p.Status = common.PositionOpen
			}
		}
	}

	p.MarkPrice = fill.Price
	if p.Side != common.Flat {
		p.LiquidationPrice = b.recomputeLiquidationPriceLocked(p, maintenanceRate, equity)
	} else {
		p.LiquidationPrice = decimalx.Zero
	}

	cp := *p
	b.publish(cp)
	return cp
}

// MarkClosing transitions a position into Closing status (spec.md §4.I.3,
// §4.J state machine), returning false if it was already Closing or
// terminal — the idempotency guard the Risk Monitor relies on.
func (b *Book) MarkClosing(user common.UserID, symbol common.Symbol) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[key{user, symbol}]
	if !ok || p.Status != common.PositionOpen {
		return false
	}
	p.Status = common.PositionClosing
	return true
}

// FinishLiquidation transitions a position to Liquidated and zeroes it
// out (spec.md §4.J).
func (b *Book) FinishLiquidation(user common.UserID, symbol common.Symbol) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[key{user, symbol}]
	if !ok {
		return
	}
	p.Status = common.PositionLiquidated
	p.Side = common.Flat
	p.Quantity = decimalx.Zero
	p.LiquidationPrice = decimalx.Zero
	cp := *p
	b.publish(cp)
}

func (b *Book) recomputeLiquidationPriceLocked(p *Position, maintenanceRate, equity decimalx.Decimal) decimalx.Decimal {
	extra := decimalx.Zero
	if p.MarginMode == common.Isolated {
		initial := margin.InitialMargin(p.Quantity, p.EntryPrice, p.Leverage)
		extra = p.IsolatedMargin.Sub(initial)
	}
	return margin.LiquidationPrice(p.Side, p.EntryPrice, p.Leverage, maintenanceRate, p.Quantity, extra)
}

func (b *Book) publish(p Position) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.PositionUpdated, events.PositionUpdatedPayload{
		UserID:           p.UserID,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Quantity:         p.Quantity,
		EntryPrice:       p.EntryPrice,
		RealizedPnl:      p.RealizedPnl,
		LiquidationPrice: p.LiquidationPrice,
		Status:           p.Status,
	})
}
