package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"callboard/internal/hub"
	"callboard/internal/metrics"
	"callboard/pkg/api/callboard"
	"callboard/pkg/logging"
	"callboard/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	subscribeTimeout = 5 * time.Second
)

// Broker is the part of the hub a session talks to.
type Broker interface {
	Subscribe(ctx context.Context) (*hub.Subscription, error)
	Acknowledge(ctx context.Context, id int64) error
	History(ctx context.Context, sub *hub.Subscription) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server upgrades HTTP requests into subscriber sessions.
type Server struct {
	broker  Broker
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewServer creates a session server backed by broker.
func NewServer(broker Broker, logger logging.Logger, m *metrics.Metrics) *Server {
	return &Server{broker: broker, logger: logger, metrics: m}
}

// session is one connected display. It moves Connecting -> Connected ->
// Disconnected and never comes back; a reconnect is a new session.
type session struct {
	conn    *websocket.Conn
	sub     *hub.Subscription
	broker  Broker
	logger  logging.Entry
	metrics *metrics.Metrics
}

// ServeWS handles WebSocket requests from display clients
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	sub, err := s.broker.Subscribe(ctx)
	cancel()
	if err != nil {
		s.logger.WithError(err).Error("Failed to register subscriber")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	sess := &session{
		conn:   conn,
		sub:    sub,
		broker: s.broker,
		logger: s.logger.WithFields(logging.Fields{
			"subscription_id": sub.ID(),
			"remote_addr":     r.RemoteAddr,
		}),
		metrics: s.metrics,
	}
	sess.logger.Info("WebSocket session connected")

	go sess.writePump()
	go sess.readPump()
}

// readPump pumps client messages into the hub
func (s *session) readPump() {
	defer func() {
		s.sub.Cancel()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Warn("WebSocket connection error")
			}
			break
		}

		if err := s.handleMessage(message); err != nil {
			s.logger.WithError(err).Warn("Ending session")
			break
		}
	}

	s.logger.Info("WebSocket session disconnected")
}

// writePump pumps hub events to the WebSocket connection
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.sub.Cancel()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.sub.Events():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// dropped by the hub or the hub stopped
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			frame, err := EncodeEvent(ev, time.Now().UTC())
			if err != nil {
				s.logger.WithError(err).Error("Failed to encode event")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.WithError(err).Debug("WebSocket write failed")
				return
			}
			if na, ok := ev.(hub.NewAnnouncement); ok {
				s.metrics.ObserveDeliveryLag(ev.EventType(), time.Since(na.Announcement.ReceivedAt))
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies one client message. Only a stopped hub is fatal.
func (s *session) handleMessage(raw []byte) error {
	var msg callboard.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.metrics.ClientMessage("unknown", "invalid")
		s.logger.WithError(err).Warn("Invalid client message")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	switch msg.Action {
	case callboard.ActionAcknowledge, callboard.ActionLegacyAcknowledge:
		if msg.ID == nil {
			s.metrics.ClientMessage(callboard.ActionAcknowledge, "invalid")
			s.logger.Warn("Acknowledge without id")
			return nil
		}
		err := s.broker.Acknowledge(ctx, *msg.ID)
		switch {
		case err == nil:
			s.metrics.ClientMessage(callboard.ActionAcknowledge, "ok")
		case errors.Is(err, hub.ErrNotFound):
			s.metrics.ClientMessage(callboard.ActionAcknowledge, "not_found")
			s.logger.WithField("announcement_id", *msg.ID).Debug("Acknowledge for unknown announcement ignored")
		default:
			return fmt.Errorf("acknowledge %d: %w", *msg.ID, err)
		}

	case callboard.ActionHistory, callboard.ActionLegacyHistory:
		if err := s.broker.History(ctx, s.sub); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		s.metrics.ClientMessage(callboard.ActionHistory, "ok")

	default:
		s.metrics.ClientMessage("unknown", "ignored")
		s.logger.WithField("action", msg.Action).Warn("Unknown client action")
	}
	return nil
}

// EncodeEvent frames a hub event as a JSON envelope.
func EncodeEvent(ev hub.Event, now time.Time) ([]byte, error) {
	var data interface{}
	switch e := ev.(type) {
	case hub.NewAnnouncement:
		data = e.Announcement
	case hub.PendingBacklog:
		data = nonNil(e.Announcements)
	case hub.History:
		data = nonNil(e.Announcements)
	case hub.Processed:
		data = callboard.ProcessedData{ID: e.ID}
	case hub.ConnectionStatus:
		data = callboard.ConnectionStatusData{
			Connected:    e.Connected,
			Timestamp:    e.Timestamp,
			TotalClients: e.TotalClients,
		}
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return json.Marshal(callboard.Envelope{
		Type:      ev.EventType(),
		Data:      raw,
		Timestamp: now,
	})
}

func nonNil(list []models.Announcement) []models.Announcement {
	if list == nil {
		return []models.Announcement{}
	}
	return list
}
