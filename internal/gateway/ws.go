package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nyxex/internal/events"
)

// eventTopics is the full event stream surface §6 names, fanned out to
// every websocket subscriber.
var eventTopics = []events.Event{
	events.OrderAccepted,
	events.OrderRejected,
	events.OrderFilled,
	events.OrderCancelled,
	events.TradeExecuted,
	events.PositionUpdated,
	events.LiquidationQueued,
	events.Liquidated,
	events.MarginCall,
	events.MarketStatusChanged,
}

// wsEnvelope wraps a bus payload with the topic name it arrived on, so a
// single connection can multiplex every topic.
type wsEnvelope struct {
	ConnectionID string `json:"connectionId"`
	Topic        string `json:"topic"`
	Payload      any    `json:"payload"`
}

// WS bridges the event bus to subscribed websocket connections, the
// concrete adapter for the "WebSocket framing" external collaborator
// spec.md §1 names, grounded on monjeychiang-DES-V2's
// internal/api/websocket.go (upgrader + bus.Subscribe + per-connection
// fan-out loop).
type WS struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// NewWS returns a websocket bridge fanning bus events out to connections.
func NewWS(bus *events.Bus) *WS {
	return &WS{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams every event-bus topic to
// it as JSON until the client disconnects.
func (w *WS) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("gateway: ws upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.New().String()

	type subscription struct {
		topic events.Event
		ch    <-chan any
		unsub func()
	}
	subs := make([]subscription, 0, len(eventTopics))
	for _, topic := range eventTopics {
		ch, unsub := w.bus.Subscribe(topic)
		subs = append(subs, subscription{topic: topic, ch: ch, unsub: unsub})
	}
	defer func() {
		for _, s := range subs {
			s.unsub()
		}
	}()

	// Drain every subscription's channel into one writer goroutine; a
	// reader goroutine watches for the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	merged := make(chan wsEnvelope, 256)
	for _, s := range subs {
		go func(s subscription) {
			for payload := range s.ch {
				select {
				case merged <- wsEnvelope{ConnectionID: connID, Topic: s.topic.String(), Payload: payload}:
				case <-closed:
					return
				}
			}
		}(s)
	}

	for {
		select {
		case <-closed:
			return
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				log.Error().Err(err).Str("connection", connID).Msg("gateway: ws write failed")
				return
			}
		}
	}
}
