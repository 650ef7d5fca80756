package common

import (
	"fmt"

	"nyxex/internal/decimalx"
)

// Trade records one match between a taker and a maker order
// (spec.md §4.F.3).
type Trade struct {
	TradeID   TradeID
	Symbol    Symbol
	TakerID   OrderID
	MakerID   OrderID
	TakerUser UserID
	MakerUser UserID
	TakerSide Side // the taker's side; the maker's is the opposite
	Price     decimalx.Decimal
	Quantity  decimalx.Decimal
	TakerFee  decimalx.Decimal
	MakerFee  decimalx.Decimal
	Seq       uint64 // sequence number at which the trade was produced
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%d symbol=%s taker=%d maker=%d price=%s qty=%s}",
		t.TradeID, t.Symbol, t.TakerID, t.MakerID, t.Price, t.Quantity,
	)
}
