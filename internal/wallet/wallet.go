// Package wallet implements per-user balances and the two-phase margin
// reservation API spec.md §5 requires ("a two-phase reservation — (1)
// synchronous attempt to lock `need` on the wallet shard; (2) if granted,
// engine proceeds; if not, order is rejected InsufficientBalance"). Wallet
// shards are owned per-user and mutated only through this API; this
// package intentionally never imports internal/position or internal/book
// so the wallet -> position -> book lock ordering spec.md §5 mandates
// cannot be violated by construction.
package wallet

import (
	"fmt"
	"sync"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// Asset names a balance currency, e.g. "USDT" or "BTC".
type Asset string

// Balance is one asset's available/locked split (spec.md §3).
type Balance struct {
	Available decimalx.Decimal
	Locked    decimalx.Decimal
}

// Total returns Available + Locked.
func (b Balance) Total() decimalx.Decimal {
	return b.Available.Add(b.Locked)
}

// Hold is a single reservation, returned by Reserve so callers can Commit
// or Release it precisely — never by re-deriving the amount, which would
// risk releasing more than was reserved.
type Hold struct {
	id     uint64
	user   common.UserID
	asset  Asset
	amount decimalx.Decimal
}

// Amount returns the quantity locked by this hold — callers outside this
// package may need it to apportion a partial commit (e.g. the matching
// engine sizing how much of a reservation a partial fill actually used).
func (h Hold) Amount() decimalx.Decimal { return h.amount }

// Asset returns the asset this hold locked.
func (h Hold) Asset() Asset { return h.asset }

// Wallet holds every user's per-asset balances behind a single mutex. A
// real deployment would shard this per user (spec.md §5: "Wallet shards
// are owned per-user"); one mutex over a map is the single-process
// equivalent and keeps Reserve/Commit/Release trivially linearizable.
type Wallet struct {
	mu       sync.Mutex
	balances map[common.UserID]map[Asset]*Balance
	nextHold uint64
}

// New creates an empty Wallet.
func New() *Wallet {
	return &Wallet{balances: make(map[common.UserID]map[Asset]*Balance)}
}

// Credit increases a user's available balance, creating the account/asset
// entry if absent. Used for deposits, fill proceeds, and liquidation
// residue payouts.
func (w *Wallet) Credit(user common.UserID, asset Asset, amount decimalx.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balanceLocked(user, asset)
	bal.Available = bal.Available.Add(amount)
}

// Debit decreases a user's available balance. Returns an error if the
// user lacks sufficient available funds; callers that must never fail
// (e.g. charging a fee already accounted for in a reservation) should
// Reserve first instead.
func (w *Wallet) Debit(user common.UserID, asset Asset, amount decimalx.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balanceLocked(user, asset)
	if bal.Available.LessThan(amount) {
		return fmt.Errorf("wallet: insufficient %s balance for %s", asset, user)
	}
	bal.Available = bal.Available.Sub(amount)
	return nil
}

// Snapshot returns a copy of a user's balances for validator/margin reads.
func (w *Wallet) Snapshot(user common.UserID) map[Asset]Balance {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[Asset]Balance)
	for asset, bal := range w.balances[user] {
		out[asset] = *bal
	}
	return out
}

// Equity returns Available+Locked for a single asset — the Cross-margin
// substitute for isolatedMargin in the margin-ratio formula (spec.md
// §4.H).
func (w *Wallet) Equity(user common.UserID, asset Asset) decimalx.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceLocked(user, asset).Total()
}

// Reserve attempts to lock `need` of asset from user's available balance.
// On success it returns a Hold that must later be Commit-ed (converted to
// a debit) or Release-d (returned to available). This is the synchronous
// attempt step of spec.md §5's two-phase reservation.
func (w *Wallet) Reserve(user common.UserID, asset Asset, need decimalx.Decimal) (Hold, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	bal := w.balanceLocked(user, asset)
	if bal.Available.LessThan(need) {
		return Hold{}, fmt.Errorf("wallet: %w", ErrInsufficientBalance)
	}
	bal.Available = bal.Available.Sub(need)
	bal.Locked = bal.Locked.Add(need)

	w.nextHold++
	return Hold{id: w.nextHold, user: user, asset: asset, amount: need}, nil
}

// Commit converts a hold into a permanent debit (the reserved funds leave
// the wallet entirely, e.g. paid out as margin or fees).
func (w *Wallet) Commit(h Hold) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balanceLocked(h.user, h.asset)
	bal.Locked = bal.Locked.Sub(h.amount)
}

// CommitPartial commits only part of a hold (e.g. the fee and margin
// actually consumed by a partial fill) and releases the rest back to
// available.
func (w *Wallet) CommitPartial(h Hold, used decimalx.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balanceLocked(h.user, h.asset)
	remainder := h.amount.Sub(used)
	bal.Locked = bal.Locked.Sub(h.amount)
	bal.Available = bal.Available.Add(remainder)
}

// Release returns a hold's funds to available without any debit (order
// cancelled or rejected before any fill consumed the reservation).
func (w *Wallet) Release(h Hold) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balanceLocked(h.user, h.asset)
	bal.Locked = bal.Locked.Sub(h.amount)
	bal.Available = bal.Available.Add(h.amount)
}

func (w *Wallet) balanceLocked(user common.UserID, asset Asset) *Balance {
	assets, ok := w.balances[user]
	if !ok {
		assets = make(map[Asset]*Balance)
		w.balances[user] = assets
	}
	bal, ok := assets[asset]
	if !ok {
		bal = &Balance{}
		assets[asset] = bal
	}
	return bal
}

// ErrInsufficientBalance is returned (wrapped) by Reserve when funds are
// short; Debit returns its own unwrapped error. The exchange facade
// reports a failed Reserve as common.ReasonInsufficientBalance.
var ErrInsufficientBalance = fmt.Errorf("insufficient balance")
