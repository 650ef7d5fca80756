package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxex/internal/common"
)

func mkOrder(id common.OrderID, side common.Side, price, qty float64, seq uint64) *common.Order {
	return &common.Order{
		OrderID:   id,
		Symbol:    "BTCUSDT",
		Side:      side,
		Type:      common.Limit,
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromFloat(qty),
		CreatedAt: seq,
		Status:    common.Open,
	}
}

func TestAddRestingOrdersLevelsByPriceTimePriority(t *testing.T) {
	b := New("BTCUSDT")

	require.NoError(t, b.AddResting(mkOrder(1, common.Sell, 100, 1, 1)))
	require.NoError(t, b.AddResting(mkOrder(2, common.Sell, 100, 1, 2)))
	require.NoError(t, b.AddResting(mkOrder(3, common.Sell, 99, 1, 3)))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(99).Equal(ask))

	var first *common.Order
	for level := range b.IterateOpposite(common.Buy) {
		first = level.Front()
		break
	}
	require.NotNil(t, first)
	assert.Equal(t, common.OrderID(3), first.OrderID)
}

func TestRemoveOrderIsO1AndUpdatesAggregates(t *testing.T) {
	b := New("BTCUSDT")
	require.NoError(t, b.AddResting(mkOrder(1, common.Buy, 100, 2, 1)))
	require.NoError(t, b.AddResting(mkOrder(2, common.Buy, 100, 3, 2)))

	removed, ok := b.RemoveOrder(1)
	require.True(t, ok)
	assert.Equal(t, common.OrderID(1), removed.OrderID)
	assert.False(t, b.Contains(1))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(bid))
	require.NoError(t, b.CheckInvariants())
}

func TestBookNonCrossingInvariant(t *testing.T) {
	b := New("BTCUSDT")
	require.NoError(t, b.AddResting(mkOrder(1, common.Buy, 99, 1, 1)))
	require.NoError(t, b.AddResting(mkOrder(2, common.Sell, 100, 1, 2)))
	assert.NoError(t, b.CheckInvariants())
}

func TestSnapshotDepth(t *testing.T) {
	b := New("BTCUSDT")
	require.NoError(t, b.AddResting(mkOrder(1, common.Buy, 99, 1, 1)))
	require.NoError(t, b.AddResting(mkOrder(2, common.Buy, 98, 1, 2)))
	require.NoError(t, b.AddResting(mkOrder(3, common.Buy, 97, 1, 3)))

	snap := b.Snapshot(2)
	assert.Len(t, snap.Bids, 2)
	assert.True(t, decimal.NewFromInt(99).Equal(snap.Bids[0].Price))
}
