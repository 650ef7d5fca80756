package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/exchange"
)

const (
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

// clientSession tracks one connected TCP client, the generalization of
// the teacher's ClientSession (address-keyed, single net.Conn).
type clientSession struct {
	conn net.Conn
}

// clientMessage links a decoded Frame to the session that sent it, the
// generalization of the teacher's ClientMessage.
type clientMessage struct {
	sessionID string
	frame     Frame
}

// TCP is the order-submission adapter: a length-prefixed binary
// protocol over a worker-pool-backed TCP listener, grounded on the
// teacher's internal/net/server.go (Engine-interface injection, session
// map, worker pool) and internal/worker.go (WorkerPool/tasks channel).
// It calls directly into *exchange.Exchange rather than through a
// locally declared interface, since there is exactly one production
// implementation and tests exercise the real Exchange.
type TCP struct {
	address string
	port    int
	engine  *exchange.Exchange
	workers int

	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]clientSession

	tasks    chan net.Conn
	messages chan clientMessage
}

// NewTCP returns a TCP adapter bound to address:port, dispatching
// decoded requests to engine.
func NewTCP(address string, port int, engine *exchange.Exchange, workers int) *TCP {
	if workers <= 0 {
		workers = defaultNWorkers
	}
	return &TCP{
		address:  address,
		port:     port,
		engine:   engine,
		workers:  workers,
		sessions: make(map[string]clientSession),
		tasks:    make(chan net.Conn, 128),
		messages: make(chan clientMessage, 128),
	}
}

// Run listens until ctx is cancelled or a fatal listener error occurs.
func (s *TCP) Run(ctx context.Context) {
	defer s.Shutdown()
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("gateway: unable to start tcp listener")
		return
	}
	defer listener.Close()

	for i := 0; i < s.workers; i++ {
		t.Go(s.worker(t))
	}
	t.Go(func() error { return s.sessionHandler(t) })

	log.Info().Str("address", listener.Addr().String()).Msg("gateway: tcp listening")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				log.Error().Err(err).Msg("gateway: error accepting client")
				continue
			}
			s.addSession(conn)
			s.tasks <- conn
		}
	}
}

// Shutdown stops the listener.
func (s *TCP) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *TCP) worker(t *tomb.Tomb) func() error {
	return func() error {
		for {
			select {
			case <-t.Dying():
				return nil
			case conn := <-s.tasks:
				if err := s.handleConnection(t, conn); err != nil {
					log.Error().Err(err).Msg("gateway: connection worker error")
				}
			}
		}
	}
}

func (s *TCP) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			s.handleFrame(msg)
		}
	}
}

// handleConnection reads one frame, hands it to the session handler,
// then (if the connection is still alive) re-enqueues it for the next
// frame, matching the teacher's one-frame-per-task worker shape.
func (s *TCP) handleConnection(t *tomb.Tomb, conn net.Conn) error {
	sessionID := conn.RemoteAddr().String()
	conn.SetReadDeadline(time.Now().Add(defaultConnTimeout))

	frame, err := ReadFrame(conn)
	if err != nil {
		s.deleteSession(sessionID)
		conn.Close()
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	case s.messages <- clientMessage{sessionID: sessionID, frame: frame}:
	}

	select {
	case <-t.Dying():
	case s.tasks <- conn:
	}
	return nil
}

func (s *TCP) handleFrame(msg clientMessage) {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[msg.sessionID]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}

	resp, respType := s.dispatch(msg.frame)
	if err := WriteFrame(sess.conn, Frame{Type: respType, Body: resp}); err != nil {
		log.Error().Err(err).Str("session", msg.sessionID).Msg("gateway: error writing response")
		s.deleteSession(msg.sessionID)
	}
}

func (s *TCP) dispatch(frame Frame) ([]byte, MessageType) {
	switch frame.Type {
	case MsgHeartbeat:
		return nil, MsgHeartbeat

	case MsgSubmitOrder:
		var req SubmitOrderRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		if req.RequestID == "" {
			req.RequestID = uuid.New().String()
		}
		result := s.engine.SubmitOrder(exchange.SubmitRequest{
			ClientOrderID: req.ClientOrderID,
			UserID:        req.UserID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Quantity:      req.Quantity,
			Price:         req.Price,
			StopPrice:     req.StopPrice,
			TimeInForce:   req.TimeInForce,
			Flags:         req.Flags,
			Leverage:      req.Leverage,
			MarginMode:    req.MarginMode,
			Trailing:      req.Trailing,
		})
		body, _ := encode(SubmitOrderResponse{
			RequestID: req.RequestID, OrderID: result.OrderID, LinkedID: result.LinkedID,
			Status: result.Status, Fills: result.Fills, RejectReason: result.RejectReason,
		})
		return body, MsgResponse

	case MsgCancelOrder:
		var req CancelOrderRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		result := s.engine.CancelOrder(req.UserID, req.OrderID)
		body, _ := encode(CancelOrderResponse{RequestID: req.RequestID, Cancelled: result.Cancelled, Reason: result.Reason})
		return body, MsgResponse

	case MsgModifyOrder:
		var req ModifyOrderRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		result := s.engine.ModifyOrder(req.UserID, req.OrderID, exchange.ModifyRequest{
			Price: req.Price, Quantity: req.Quantity, StopPrice: req.StopPrice,
		})
		body, _ := encode(SubmitOrderResponse{
			RequestID: req.RequestID, OrderID: result.OrderID, Status: result.Status,
			Fills: result.Fills, RejectReason: result.RejectReason,
		})
		return body, MsgResponse

	case MsgCancelAll:
		var req CancelAllRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		count := s.engine.CancelAll(req.UserID, req.Symbol)
		body, _ := encode(CancelAllResponse{RequestID: req.RequestID, Count: count})
		return body, MsgResponse

	case MsgGetOrderBook:
		var req GetOrderBookRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		snap, err := s.engine.GetOrderBook(req.Symbol, req.Depth)
		if err != nil {
			return s.errBody(req.RequestID, err)
		}
		body, _ := encode(snap)
		return body, MsgResponse

	case MsgGetPosition:
		var req GetPositionRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		positions := s.engine.GetPosition(req.UserID, req.Symbol)
		body, _ := encode(positions)
		return body, MsgResponse

	case MsgOnMarkPrice:
		var req OnMarkPriceRequest
		if err := decode(frame.Body, &req); err != nil {
			return s.errBody(req.RequestID, err)
		}
		if err := s.engine.OnMarkPrice(req.Symbol, req.Bid, req.Ask, req.Mark, req.Ts); err != nil {
			return s.errBody(req.RequestID, err)
		}
		body, _ := encode(map[string]string{"requestId": req.RequestID})
		return body, MsgResponse

	default:
		return s.errBody("", fmt.Errorf("gateway: unknown message type %d", frame.Type))
	}
}

func (s *TCP) errBody(requestID string, err error) ([]byte, MessageType) {
	body, _ := encode(ErrorResponse{RequestID: requestID, Error: err.Error()})
	return body, MsgError
}

func (s *TCP) addSession(conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *TCP) deleteSession(id string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, id)
}
