// Package liquidation implements the Liquidation Engine (spec.md §2
// component J, §4.J): it drains a queue of forced-close requests the Risk
// Monitor populates, submits closing Market orders back onto the owning
// symbol shard, and settles the result against the insurance fund or, on
// shortfall, auto-deleveraging. Grounded on
// monjeychiang-DES-V2/internal/order/queue.go's channel + Drain(ctx,
// handler) shape.
package liquidation

import (
	"nyxex/internal/common"
)

// Request asks the Liquidation Engine to force-close a position (spec.md
// §4.I: "enqueue a LiquidationRequest (positionId, reason)").
type Request struct {
	UserID common.UserID
	Symbol common.Symbol
	Reason string
}

// Queue buffers liquidation requests between the Risk Monitor (producer)
// and the Liquidation Engine (sole consumer).
type Queue struct {
	ch chan Request
}

// NewQueue creates a queue with the given channel depth.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Request, size)}
}

// Enqueue blocks until the request is accepted. The Risk Monitor's
// MarkClosing idempotency guard ensures a given position is only ever
// enqueued once while Closing, so a slow drain backs up the monitor rather
// than silently losing a liquidation — unlike the non-blocking event bus,
// this path must never drop work.
func (q *Queue) Enqueue(req Request) {
	q.ch <- req
}

// Chan exposes the receive side for the engine's drain loop.
func (q *Queue) Chan() <-chan Request {
	return q.ch
}
