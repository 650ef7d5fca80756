package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxex/internal/events"
)

func TestOnTickAcceptsMonotonicTicks(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.MarkPriceUpdated)
	defer unsub()

	f := New(bus)
	require.NoError(t, f.OnTick(Tick{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(100), Ts: 1}))
	require.NoError(t, f.OnTick(Tick{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(101), Ts: 2}))

	latest, ok := f.Latest("BTCUSDT")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(101).Equal(latest.Mark))

	payload := (<-ch).(events.MarkPriceUpdatedPayload)
	assert.Equal(t, int64(1), payload.Ts)
	payload = (<-ch).(events.MarkPriceUpdatedPayload)
	assert.Equal(t, int64(2), payload.Ts)
}

func TestOnTickRejectsStaleTick(t *testing.T) {
	bus := events.NewBus()
	f := New(bus)

	require.NoError(t, f.OnTick(Tick{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(100), Ts: 5}))
	err := f.OnTick(Tick{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(99), Ts: 3})
	assert.Error(t, err)

	latest, ok := f.Latest("BTCUSDT")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(latest.Mark), "stale tick must not overwrite latest")
}

func TestOnTickRejectsEqualTimestamp(t *testing.T) {
	bus := events.NewBus()
	f := New(bus)

	require.NoError(t, f.OnTick(Tick{Symbol: "ETHUSDT", Mark: decimal.NewFromInt(10), Ts: 7}))
	err := f.OnTick(Tick{Symbol: "ETHUSDT", Mark: decimal.NewFromInt(11), Ts: 7})
	assert.Error(t, err)
}
