package book

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// location pinpoints a resting order's exact position so RemoveOrder can
// run in O(1) instead of scanning every level (spec.md §4.E:
// "removeOrder(orderId) — O(1) via an auxiliary orderId->(level,
// position) index" — the teacher's orderbook.go had no such index and
// instead rebuilt order slices on every match).
type location struct {
	side  common.Side
	level *PriceLevel
	elem  *list.Element
}

// Book is the two-sided priority queue for one trading symbol.
type Book struct {
	mu     sync.RWMutex
	symbol common.Symbol

	bids *btree.BTreeG[*PriceLevel] // sorted descending by price
	asks *btree.BTreeG[*PriceLevel] // sorted ascending by price

	index map[common.OrderID]*location

	bestBidCache *PriceLevel
	bestAskCache *PriceLevel
	cacheValid   bool
}

// New creates an empty book for symbol.
func New(symbol common.Symbol) *Book {
	b := &Book{
		symbol: symbol,
		index:  make(map[common.OrderID]*location),
	}
	b.bids = btree.NewBTreeG(func(a, c *PriceLevel) bool {
		return a.Price.GreaterThan(c.Price) // descending: highest bid first
	})
	b.asks = btree.NewBTreeG(func(a, c *PriceLevel) bool {
		return a.Price.LessThan(c.Price) // ascending: lowest ask first
	})
	return b
}

func (b *Book) treeFor(side common.Side) *btree.BTreeG[*PriceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// AddResting inserts order into the book on the side matching order.Side.
// The caller (matching engine) is responsible for ensuring the order does
// not cross the opposite side before calling this — the book itself only
// asserts the order is a Limit type or limit-bearing residue thereof
// (spec.md §4.E: "Asserts order is Limit or resting remainder thereof").
func (b *Book) AddResting(o *common.Order) error {
	if o.Type != common.Limit && o.Type != common.StopLimit {
		return fmt.Errorf("book: order %d of type %s cannot rest", o.OrderID, o.Type)
	}
	if o.Remaining().IsZero() {
		return fmt.Errorf("book: order %d has no remaining quantity to rest", o.OrderID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tree := b.treeFor(o.Side)
	probe := &PriceLevel{Price: o.Price}
	level, ok := tree.Get(probe)
	if !ok {
		level = newPriceLevel(o.Price)
		tree.Set(level)
	}
	elem := level.pushBack(o)
	b.index[o.OrderID] = &location{side: o.Side, level: level, elem: elem}
	b.cacheValid = false
	return nil
}

// RemoveOrder removes and returns the resting order with id, or (nil,
// false) if it is not currently resting.
func (b *Book) RemoveOrder(id common.OrderID) (*common.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Book) removeLocked(id common.OrderID) (*common.Order, bool) {
	loc, ok := b.index[id]
	if !ok {
		return nil, false
	}
	o := loc.elem.Value.(*common.Order)
	loc.level.remove(loc.elem)
	delete(b.index, id)

	if loc.level.Len() == 0 {
		b.treeFor(loc.side).Delete(loc.level)
	}
	b.cacheValid = false
	return o, true
}

// DecrementFilled records that a resting order was partially filled in
// place (without removing it), keeping the level's TotalQty aggregate in
// sync. The matching engine calls this instead of remove+reinsert so the
// order keeps its position/time-priority within the level.
func (b *Book) DecrementFilled(id common.OrderID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.index[id]
	if !ok {
		return
	}
	loc.level.recomputeQty()
	b.cacheValid = false
}

// OrdersForUser returns every resting order belonging to user, across
// both sides of the book. Used by admin/CancelAll operations that must
// enumerate a user's live orders without the caller tracking its own
// index (spec.md §6: "cancelAll(userId, symbol?) -> count").
func (b *Book) OrdersForUser(user common.UserID) []*common.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*common.Order
	for _, loc := range b.index {
		o := loc.elem.Value.(*common.Order)
		if o.UserID == user {
			out = append(out, o)
		}
	}
	return out
}

// Contains reports whether id currently rests in the book.
func (b *Book) Contains(id common.OrderID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

// Peek returns the resting order with id without removing it, for callers
// that need to mutate bookkeeping fields (e.g. OCO link flags) in place.
func (b *Book) Peek(id common.OrderID) (*common.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	loc, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return loc.elem.Value.(*common.Order), true
}

// BestOppositeLevel returns the single best-priced level a new order on
// side would match against — the top ask for a Buy, the top bid for a
// Sell — without the allocation IterateOpposite's full snapshot needs.
// This is the matching engine's hot-path accessor.
func (b *Book) BestOppositeLevel(side common.Side) (*PriceLevel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCache()
	if side == common.Buy {
		if b.bestAskCache == nil {
			return nil, false
		}
		return b.bestAskCache, true
	}
	if b.bestBidCache == nil {
		return nil, false
	}
	return b.bestBidCache, true
}

// refreshCache recomputes the best-bid/best-ask cache; called lazily by
// BestBid/BestAsk after any mutation invalidated it (spec.md §4.E:
// "bestBid()/bestAsk() — O(1) cached at each mutation").
func (b *Book) refreshCache() {
	if b.cacheValid {
		return
	}
	b.bestBidCache, _ = b.bids.Min()
	b.bestAskCache, _ = b.asks.Min() // asks tree orders ascending, so Min = best ask
	b.cacheValid = true
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (decimalx.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCache()
	if b.bestBidCache == nil {
		return decimalx.Zero, false
	}
	return b.bestBidCache.Price, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (decimalx.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCache()
	if b.bestAskCache == nil {
		return decimalx.Zero, false
	}
	return b.bestAskCache.Price, true
}

// IterateOpposite yields the levels a new order on side would match
// against, in match order: a Buy walks asks ascending, a Sell walks bids
// descending (spec.md §4.E). Yielding stops as soon as the consumer stops
// pulling, but the level list itself is not lazy: every level on that
// side of the tree is collected under the read lock before the first one
// is yielded.
func (b *Book) IterateOpposite(side common.Side) func(yield func(*PriceLevel) bool) {
	return func(yield func(*PriceLevel) bool) {
		b.mu.RLock()
		tree := b.asks
		if side == common.Sell {
			tree = b.bids
		}
		// Snapshot level pointers under the read lock, then yield outside
		// it so the consumer may call back into Book (e.g. RemoveOrder)
		// without deadlocking on a non-reentrant RWMutex.
		levels := make([]*PriceLevel, 0, tree.Len())
		tree.Scan(func(l *PriceLevel) bool {
			levels = append(levels, l)
			return true
		})
		b.mu.RUnlock()

		for _, l := range levels {
			if l.Len() == 0 {
				continue // fully consumed by the walk itself
			}
			if !yield(l) {
				return
			}
		}
	}
}

// LevelAgg is one aggregated depth row of a book Snapshot.
type LevelAgg struct {
	Price decimalx.Decimal
	Qty   decimalx.Decimal
}

// Snapshot is an external-consumer view of book depth (spec.md §6:
// "getOrderBook(symbol, depth) -> snapshot").
type Snapshot struct {
	Symbol common.Symbol
	Bids   []LevelAgg
	Asks   []LevelAgg
}

// Snapshot returns up to depth aggregate levels per side.
func (b *Book) Snapshot(depth int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Snapshot{Symbol: b.symbol}
	n := 0
	b.bids.Scan(func(l *PriceLevel) bool {
		if n >= depth {
			return false
		}
		out.Bids = append(out.Bids, LevelAgg{Price: l.Price, Qty: l.TotalQty})
		n++
		return true
	})
	n = 0
	b.asks.Scan(func(l *PriceLevel) bool {
		if n >= depth {
			return false
		}
		out.Asks = append(out.Asks, LevelAgg{Price: l.Price, Qty: l.TotalQty})
		n++
		return true
	})
	return out
}

// CheckInvariants asserts bestBid < bestAsk (or one side empty) and that
// every level's TotalQty matches the sum of its orders' remaining
// quantities (spec.md §4.E). It is intended for tests and debug builds,
// not the hot path.
func (b *Book) CheckInvariants() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var err error
	b.bids.Scan(func(l *PriceLevel) bool {
		if e := checkLevel(l); e != nil {
			err = e
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	b.asks.Scan(func(l *PriceLevel) bool {
		if e := checkLevel(l); e != nil {
			err = e
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	bestBid, hasBid := b.bids.Min()
	bestAsk, hasAsk := b.asks.Min()
	if hasBid && hasAsk && bestBid.Price.GreaterThanOrEqual(bestAsk.Price) {
		return fmt.Errorf("book %s: crossed at rest: bid %s >= ask %s", b.symbol, bestBid.Price, bestAsk.Price)
	}
	return nil
}

func checkLevel(l *PriceLevel) error {
	sum := decimalx.Zero
	for e := l.Orders.Front(); e != nil; e = e.Next() {
		sum = sum.Add(e.Value.(*common.Order).Remaining())
	}
	if !sum.Equal(l.TotalQty) {
		return fmt.Errorf("price level %s: TotalQty %s != sum of orders %s", l.Price, l.TotalQty, sum)
	}
	return nil
}
