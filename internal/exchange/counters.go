package exchange

import (
	"sync"

	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/common"
	"nyxex/internal/events"
)

// openOrderCounters tracks each user's and the exchange's total live order
// count, the authoritative figures internal/validator.Limits needs but
// deliberately does not keep itself (validator.go: "Counts are supplied
// by the caller ... so Validate itself stays a pure function"). Grounded
// on the same event-subscriber-goroutine shape internal/risk.Monitor uses
// to track mark-price ticks.
type openOrderCounters struct {
	mu     sync.Mutex
	global int
	perUser map[common.UserID]int
}

func newOpenOrderCounters() *openOrderCounters {
	return &openOrderCounters{perUser: make(map[common.UserID]int)}
}

func (c *openOrderCounters) forUser(u common.UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[u]
}

func (c *openOrderCounters) globalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global
}

func (c *openOrderCounters) inc(u common.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perUser[u]++
	c.global++
}

func (c *openOrderCounters) dec(u common.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perUser[u] > 0 {
		c.perUser[u]--
	}
	if c.global > 0 {
		c.global--
	}
}

// run subscribes to the order lifecycle topics and returns a tomb.Tomb
// goroutine function that maintains the counts until t dies.
func (c *openOrderCounters) run(bus *events.Bus, t *tomb.Tomb) func() error {
	return func() error {
		acceptedCh, unsubA := bus.Subscribe(events.OrderAccepted)
		filledCh, unsubF := bus.Subscribe(events.OrderFilled)
		cancelledCh, unsubC := bus.Subscribe(events.OrderCancelled)
		rejectedCh, unsubR := bus.Subscribe(events.OrderRejected)
		defer unsubA()
		defer unsubF()
		defer unsubC()
		defer unsubR()

		for {
			select {
			case <-t.Dying():
				return nil
			case raw := <-acceptedCh:
				if p, ok := raw.(events.OrderAcceptedPayload); ok {
					c.inc(p.Order.UserID)
				}
			case raw := <-filledCh:
				// A partially filled IOC/Market residue is counted down by
				// its OrderCancelled event, so only a full fill counts here.
				if p, ok := raw.(events.OrderFilledPayload); ok && p.Order.Status == common.Filled {
					c.dec(p.Order.UserID)
				}
			case raw := <-cancelledCh:
				if p, ok := raw.(events.OrderCancelledPayload); ok {
					c.dec(p.UserID)
				}
			case raw := <-rejectedCh:
				// Engine rejects (post-only, FOK) follow an OrderAccepted;
				// validation rejects carry no OrderID and were never counted.
				if p, ok := raw.(events.OrderRejectedPayload); ok && p.OrderID != 0 {
					c.dec(p.UserID)
				}
			}
		}
	}
}
