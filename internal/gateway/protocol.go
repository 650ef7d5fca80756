// Package gateway adapts the transport-agnostic internal/exchange facade
// to the outside world: a length-prefixed TCP protocol for order
// submission and a websocket bridge for the event stream. Grounded on
// the teacher's internal/net/messages.go wire framing, generalized from
// a single Equities AssetType and two message kinds to arbitrary symbols
// and the full control-plane surface.
package gateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
)

// MessageType identifies the payload carried by a frame, the
// generalization of the teacher's MessageType (Heartbeat/NewOrder/
// CancelOrder) to the full §6 control-plane surface.
type MessageType uint8

const (
	MsgHeartbeat MessageType = iota
	MsgSubmitOrder
	MsgCancelOrder
	MsgModifyOrder
	MsgCancelAll
	MsgGetOrderBook
	MsgGetPosition
	MsgOnMarkPrice
	MsgResponse
	MsgError
)

// maxFrameBody bounds a single frame's JSON body, mirroring the
// teacher's fixed MAX_RECV_SIZE guard against unbounded reads.
const maxFrameBody = 64 * 1024

// Frame is one length-prefixed wire message: a 4-byte big-endian body
// length, a 1-byte MessageType, then a JSON-encoded body.
type Frame struct {
	Type MessageType
	Body []byte
}

// WriteFrame serializes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Body) > maxFrameBody {
		return fmt.Errorf("gateway: frame body too large (%d bytes)", len(f.Body))
	}
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(f.Body)))
	header[4] = byte(f.Type)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Body) == 0 {
		return nil
	}
	_, err := w.Write(f.Body)
	return err
}

// ReadFrame deserializes one Frame from r, blocking until a full frame
// arrives or r errors/closes.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(header[0:4])
	if n > maxFrameBody {
		return Frame{}, fmt.Errorf("gateway: frame claims %d bytes, exceeds limit", n)
	}
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: MessageType(header[4]), Body: body}, nil
}

// --- request/response bodies -------------------------------------------

// SubmitOrderRequest is the wire shape of submitOrder (spec.md §6).
type SubmitOrderRequest struct {
	RequestID     string                `json:"requestId"`
	ClientOrderID string                `json:"clientOrderId,omitempty"`
	UserID        common.UserID         `json:"userId"`
	Symbol        common.Symbol         `json:"symbol"`
	Side          common.Side           `json:"side"`
	Type          common.OrderType      `json:"type"`
	Quantity      decimalx.Decimal      `json:"quantity"`
	Price         decimalx.Decimal      `json:"price,omitempty"`
	StopPrice     decimalx.Decimal      `json:"stopPrice,omitempty"`
	TimeInForce   common.TimeInForce    `json:"timeInForce"`
	Flags         common.Flags          `json:"flags"`
	Leverage      int                   `json:"leverage"`
	MarginMode    common.MarginMode     `json:"marginMode"`
	Trailing      *common.TrailingConfig `json:"trailing,omitempty"`
}

// SubmitOrderResponse mirrors exchange.SubmitResult over the wire.
type SubmitOrderResponse struct {
	RequestID    string             `json:"requestId"`
	OrderID      common.OrderID     `json:"orderId"`
	LinkedID     common.OrderID     `json:"linkedId,omitempty"`
	Status       common.OrderStatus `json:"status"`
	Fills        []common.Trade     `json:"fills,omitempty"`
	RejectReason common.Reason      `json:"rejectReason,omitempty"`
}

// CancelOrderRequest is the wire shape of cancelOrder.
type CancelOrderRequest struct {
	RequestID string         `json:"requestId"`
	UserID    common.UserID  `json:"userId"`
	OrderID   common.OrderID `json:"orderId"`
}

// CancelOrderResponse mirrors exchange.CancelResult over the wire.
type CancelOrderResponse struct {
	RequestID string        `json:"requestId"`
	Cancelled bool          `json:"cancelled"`
	Reason    common.Reason `json:"reason,omitempty"`
}

// ModifyOrderRequest is the wire shape of modifyOrder.
type ModifyOrderRequest struct {
	RequestID string          `json:"requestId"`
	UserID    common.UserID   `json:"userId"`
	OrderID   common.OrderID  `json:"orderId"`
	Price     *decimalx.Decimal `json:"price,omitempty"`
	Quantity  *decimalx.Decimal `json:"quantity,omitempty"`
	StopPrice *decimalx.Decimal `json:"stopPrice,omitempty"`
}

// CancelAllRequest is the wire shape of cancelAll.
type CancelAllRequest struct {
	RequestID string         `json:"requestId"`
	UserID    common.UserID  `json:"userId"`
	Symbol    *common.Symbol `json:"symbol,omitempty"`
}

// CancelAllResponse reports the number of orders cancelled.
type CancelAllResponse struct {
	RequestID string `json:"requestId"`
	Count     int    `json:"count"`
}

// GetOrderBookRequest is the wire shape of getOrderBook.
type GetOrderBookRequest struct {
	RequestID string        `json:"requestId"`
	Symbol    common.Symbol `json:"symbol"`
	Depth     int           `json:"depth"`
}

// GetPositionRequest is the wire shape of getPosition.
type GetPositionRequest struct {
	RequestID string         `json:"requestId"`
	UserID    common.UserID  `json:"userId"`
	Symbol    *common.Symbol `json:"symbol,omitempty"`
}

// OnMarkPriceRequest is the wire shape of the price-feed ingress.
type OnMarkPriceRequest struct {
	RequestID string           `json:"requestId"`
	Symbol    common.Symbol    `json:"symbol"`
	Bid       decimalx.Decimal `json:"bid"`
	Ask       decimalx.Decimal `json:"ask"`
	Mark      decimalx.Decimal `json:"mark"`
	Ts        int64            `json:"ts"`
}

// ErrorResponse carries a request-handling failure back to the caller,
// the generalization of the teacher's ErrorReport.
type ErrorResponse struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

func decode(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
