// Command client is a CLI smoke client for interactively exercising
// submitOrder/cancelOrder/getOrderBook against a running gateway,
// generalized from the teacher's cmd/client/client.go to the new
// length-prefixed JSON wire format and arbitrary Symbol model.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"nyxex/internal/common"
	"nyxex/internal/decimalx"
	"nyxex/internal/gateway"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:7420", "address of the exchange gateway")
	owner := flag.String("owner", "", "user id (required)")
	action := flag.String("action", "submit", "action to perform: ['submit', 'cancel', 'cancelAll', 'book', 'position']")

	symbol := flag.String("symbol", "BTCUSDT", "symbol")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit' or 'market'")
	price := flag.String("price", "0", "limit price")
	qty := flag.String("qty", "1", "quantity")
	leverage := flag.Int("leverage", 1, "leverage")
	depth := flag.Int("depth", 10, "order book depth")
	orderID := flag.String("orderId", "", "order id, required for cancel")

	flag.Parse()

	if *owner == "" {
		fmt.Println("error: -owner is required")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to gateway at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %q\n", *serverAddr, *owner)

	switch strings.ToLower(*action) {
	case "submit":
		if err := sendSubmit(conn, *owner, *symbol, *sideStr, *typeStr, *price, *qty, *leverage); err != nil {
			log.Fatalf("submit failed: %v", err)
		}
	case "cancel":
		if *orderID == "" {
			log.Fatal("-orderId is required for cancel")
		}
		if err := sendCancel(conn, *owner, *orderID); err != nil {
			log.Fatalf("cancel failed: %v", err)
		}
	case "cancelall":
		if err := sendCancelAll(conn, *owner, *symbol); err != nil {
			log.Fatalf("cancelAll failed: %v", err)
		}
	case "book":
		if err := sendGetOrderBook(conn, *symbol, *depth); err != nil {
			log.Fatalf("getOrderBook failed: %v", err)
		}
	case "position":
		if err := sendGetPosition(conn, *owner, *symbol); err != nil {
			log.Fatalf("getPosition failed: %v", err)
		}
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	resp, err := gateway.ReadFrame(conn)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	fmt.Printf("-> %s\n", string(resp.Body))
}

func sendSubmit(conn net.Conn, owner, symbol, sideStr, typeStr, priceStr, qtyStr string, leverage int) error {
	side := common.Buy
	if strings.ToLower(sideStr) == "sell" {
		side = common.Sell
	}
	orderType := common.Limit
	if strings.ToLower(typeStr) == "market" {
		orderType = common.Market
	}

	price, err := decimalx.Parse(priceStr)
	if err != nil {
		return fmt.Errorf("invalid -price: %w", err)
	}
	qty, err := decimalx.Parse(qtyStr)
	if err != nil {
		return fmt.Errorf("invalid -qty: %w", err)
	}

	req := gateway.SubmitOrderRequest{
		RequestID:   uuid.New().String(),
		UserID:      common.UserID(owner),
		Symbol:      common.Symbol(symbol),
		Side:        side,
		Type:        orderType,
		Quantity:    qty,
		Price:       price,
		TimeInForce: common.GTC,
		Leverage:    leverage,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return gateway.WriteFrame(conn, gateway.Frame{Type: gateway.MsgSubmitOrder, Body: body})
}

func sendCancel(conn net.Conn, owner, orderIDStr string) error {
	id, err := strconv.ParseUint(orderIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid -orderId: %w", err)
	}
	req := gateway.CancelOrderRequest{
		RequestID: uuid.New().String(),
		UserID:    common.UserID(owner),
		OrderID:   common.OrderID(id),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return gateway.WriteFrame(conn, gateway.Frame{Type: gateway.MsgCancelOrder, Body: body})
}

func sendCancelAll(conn net.Conn, owner, symbol string) error {
	sym := common.Symbol(symbol)
	req := gateway.CancelAllRequest{
		RequestID: uuid.New().String(),
		UserID:    common.UserID(owner),
		Symbol:    &sym,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return gateway.WriteFrame(conn, gateway.Frame{Type: gateway.MsgCancelAll, Body: body})
}

func sendGetOrderBook(conn net.Conn, symbol string, depth int) error {
	req := gateway.GetOrderBookRequest{
		RequestID: uuid.New().String(),
		Symbol:    common.Symbol(symbol),
		Depth:     depth,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return gateway.WriteFrame(conn, gateway.Frame{Type: gateway.MsgGetOrderBook, Body: body})
}

func sendGetPosition(conn net.Conn, owner, symbol string) error {
	sym := common.Symbol(symbol)
	req := gateway.GetPositionRequest{
		RequestID: uuid.New().String(),
		UserID:    common.UserID(owner),
		Symbol:    &sym,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return gateway.WriteFrame(conn, gateway.Frame{Type: gateway.MsgGetPosition, Body: body})
}
