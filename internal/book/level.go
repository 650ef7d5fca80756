// Package book implements the per-symbol limit order book (spec.md §2
// component E, §4.E): two price-ordered trees of resting orders, each
// level keeping arrival order so price-time priority holds within a
// level. Generalizes the teacher's internal/engine/orderbook.go, which
// used a single global btree.BTreeG[*PriceLevel] per asset type with no
// O(1) order index; this version adds that index and makes the book
// symbol-scoped and decimal-keyed.
package book

import (
	"container/list"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// PriceLevel aggregates every resting order at one price on one side,
// kept in arrival order (spec.md §3: "PriceLevel: ... ordered sequence of
// resting orders by createdAt ascending").
type PriceLevel struct {
	Price    decimalx.Decimal
	Orders   *list.List // of *common.Order, front = oldest = next to match
	TotalQty decimalx.Decimal
}

func newPriceLevel(price decimalx.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, Orders: list.New()}
}

// Front returns the oldest resting order at this level, or nil if empty.
func (l *PriceLevel) Front() *common.Order {
	if e := l.Orders.Front(); e != nil {
		return e.Value.(*common.Order)
	}
	return nil
}

// Len returns the number of resting orders at this level.
func (l *PriceLevel) Len() int {
	return l.Orders.Len()
}

// Each yields every resting order at this level in arrival order, oldest
// first. The matching engine's walk does not use it; it iterates over
// Snapshot instead.
func (l *PriceLevel) Each(yield func(*common.Order) bool) {
	for e := l.Orders.Front(); e != nil; e = e.Next() {
		if !yield(e.Value.(*common.Order)) {
			return
		}
	}
}

func (l *PriceLevel) pushBack(o *common.Order) *list.Element {
	l.TotalQty = l.TotalQty.Add(o.Remaining())
	return l.Orders.PushBack(o)
}

func (l *PriceLevel) remove(e *list.Element) {
	o := e.Value.(*common.Order)
	l.TotalQty = l.TotalQty.Sub(o.Remaining())
	l.Orders.Remove(e)
}

// Snapshot returns a copy of the level's order pointers in arrival order.
// The matching engine walks this copy instead of the live list so it can
// remove or decrement orders mid-walk without invalidating an in-progress
// container/list traversal.
func (l *PriceLevel) Snapshot() []*common.Order {
	out := make([]*common.Order, 0, l.Orders.Len())
	for e := l.Orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*common.Order))
	}
	return out
}

// recomputeQty resums TotalQty from the live list; used after a resting
// order's remaining qty is decremented by a partial fill in place, since
// this package does not itself mutate Order.FilledQty (the matching
// engine does) and must be told to resync the aggregate.
func (l *PriceLevel) recomputeQty() {
	total := decimalx.Zero
	for e := l.Orders.Front(); e != nil; e = e.Next() {
		total = total.Add(e.Value.(*common.Order).Remaining())
	}
	l.TotalQty = total
}
