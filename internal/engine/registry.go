package engine

import (
	"fmt"
	"sync"

	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/book"
	"nyxex/internal/common"
	"nyxex/internal/events"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

// Engine owns one Shard per symbol, generalizing the teacher's
// engine.Engine (one OrderBook per AssetType) to arbitrary, admin-created
// symbols (spec.md §2).
type Engine struct {
	mu       sync.RWMutex
	shards   map[common.Symbol]*Shard
	t        *tomb.Tomb
	positions *position.Book
	wallets  *wallet.Wallet
	markets  *market.Registry
	bus      *events.Bus
	seq      *common.SequenceGenerator
	tradeSeq *common.SequenceGenerator
}

// New creates an Engine with no shards; call CreateShard once per symbol
// the Market Registry knows about.
func New(t *tomb.Tomb, positions *position.Book, wallets *wallet.Wallet, markets *market.Registry, bus *events.Bus) *Engine {
	return &Engine{
		shards:   make(map[common.Symbol]*Shard),
		t:        t,
		positions: positions,
		wallets:  wallets,
		markets:  markets,
		bus:      bus,
		seq:      common.NewSequenceGenerator(0),
		tradeSeq: common.NewSequenceGenerator(0),
	}
}

// CreateShard starts a new per-symbol shard. Safe to call concurrently
// with order submission against other symbols (spec.md §5: "crosses
// symbol shards only at the message layer").
func (e *Engine) CreateShard(symbol common.Symbol) *Shard {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sh, ok := e.shards[symbol]; ok {
		return sh
	}
	b := book.New(symbol)
	sh := NewShard(symbol, b, e.positions, e.wallets, e.markets, e.bus, e.seq, e.tradeSeq)
	sh.Start(e.t)
	e.shards[symbol] = sh
	return sh
}

// Shard returns the shard for symbol, if one has been created.
func (e *Engine) Shard(symbol common.Symbol) (*Shard, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sh, ok := e.shards[symbol]
	return sh, ok
}

// Submit routes req to its symbol's shard, creating an error Outcome if
// the symbol has no shard (admin has not yet created the market).
func (e *Engine) Submit(symbol common.Symbol, sub Submission) Outcome {
	sh, ok := e.Shard(symbol)
	if !ok {
		return Outcome{Err: fmt.Errorf("engine: no shard for symbol %s", symbol)}
	}
	return sh.Submit(sub)
}

// Cancel routes a cancel request to its symbol's shard.
func (e *Engine) Cancel(symbol common.Symbol, req CancelRequest) Outcome {
	sh, ok := e.Shard(symbol)
	if !ok {
		return Outcome{Err: fmt.Errorf("engine: no shard for symbol %s", symbol)}
	}
	return sh.Cancel(req)
}

// PeekOrder returns a copy of a live order by id on the given symbol.
func (e *Engine) PeekOrder(symbol common.Symbol, id common.OrderID) (common.Order, bool) {
	sh, ok := e.Shard(symbol)
	if !ok {
		return common.Order{}, false
	}
	return sh.PeekOrder(id)
}

// CancelAllForUser cancels every live order userID owns. If symbol is
// non-nil only that shard is touched; otherwise every shard is (spec.md
// §6: "cancelAll(userId, symbol?) -> count").
func (e *Engine) CancelAllForUser(userID common.UserID, symbol *common.Symbol) int {
	if symbol != nil {
		sh, ok := e.Shard(*symbol)
		if !ok {
			return 0
		}
		return sh.CancelAllForUser(userID)
	}

	e.mu.RLock()
	shards := make([]*Shard, 0, len(e.shards))
	for _, sh := range e.shards {
		shards = append(shards, sh)
	}
	e.mu.RUnlock()

	total := 0
	for _, sh := range shards {
		total += sh.CancelAllForUser(userID)
	}
	return total
}

// OrderBookSnapshot returns the named symbol's book depth, if a shard for
// it exists (spec.md §6: "getOrderBook(symbol, depth) -> snapshot").
func (e *Engine) OrderBookSnapshot(symbol common.Symbol, depth int) (book.Snapshot, bool) {
	sh, ok := e.Shard(symbol)
	if !ok {
		return book.Snapshot{}, false
	}
	return sh.BookSnapshot(depth), true
}

// Symbols returns every symbol with a live shard.
func (e *Engine) Symbols() []common.Symbol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.Symbol, 0, len(e.shards))
	for s := range e.shards {
		out = append(out, s)
	}
	return out
}
