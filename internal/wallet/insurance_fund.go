package wallet

import (
	"sync"

	"nyxex/internal/decimalx"
)

// InsuranceFund is the single global quote-asset balance mutated only by
// liquidation actions (spec.md §3, §5: "serialise via its own mailbox").
// A plain mutex stands in for the mailbox — in this single-process core
// there is no meaningful difference, but keeping it as its own type (not
// just another Wallet entry) matches the spec's framing of it as a
// distinct resource with its own access policy.
type InsuranceFund struct {
	mu      sync.Mutex
	balance decimalx.Decimal
}

// NewInsuranceFund seeds the fund with an initial balance.
func NewInsuranceFund(seed decimalx.Decimal) *InsuranceFund {
	return &InsuranceFund{balance: seed}
}

// Balance returns the current fund balance.
func (f *InsuranceFund) Balance() decimalx.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

// Credit adds to the fund, e.g. from liquidation fees collected above the
// bankruptcy price.
func (f *InsuranceFund) Credit(amount decimalx.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = f.balance.Add(amount)
}

// DrawDown attempts to cover shortfall from the fund. It returns the
// amount actually covered (capped at the available balance) and whether
// the fund was fully able to cover it; the Liquidation Engine treats an
// incomplete cover as the trigger for ADL (spec.md §4.J).
func (f *InsuranceFund) DrawDown(shortfall decimalx.Decimal) (covered decimalx.Decimal, full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.balance.GreaterThanOrEqual(shortfall) {
		f.balance = f.balance.Sub(shortfall)
		return shortfall, true
	}
	covered = f.balance
	f.balance = decimalx.Zero
	return covered, false
}
