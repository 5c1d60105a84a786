package providers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamMaxMsgSize = 4 * 1024
	streamBuffer     = 32
)

// StreamEvent is what an in-app client receives for each delivery.
type StreamEvent struct {
	ID             string            `json:"id"`
	NotificationID uint              `json:"notification_id"`
	DeliveryID     uint              `json:"delivery_id"`
	Priority       entities.Priority `json:"priority"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	SentAt         time.Time         `json:"sent_at"`
}

type streamClient struct {
	id     string
	userID uint
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans in-app deliveries out to the websocket connections of the
// recipient. The inbox row is the durable copy, so a user with no open
// connection still counts as delivered.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[string]*streamClient
	log     logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[uint]map[string]*streamClient),
		log:     log.With(logger.String("provider", "websocket")),
	}
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[string]*streamClient)
	}
	h.clients[c.userID][c.id] = c
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if byID, ok := h.clients[c.userID]; ok {
		delete(byID, c.id)
		if len(byID) == 0 {
			delete(h.clients, c.userID)
		}
	}
	c.close()
}

// Connections returns how many streams a user has open.
func (h *Hub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send implements notification.ChannelSender.
func (h *Hub) Send(_ context.Context, msg notification.Message) (string, error) {
	event := StreamEvent{
		ID:             uuid.NewString(),
		NotificationID: msg.NotificationID,
		DeliveryID:     msg.DeliveryID,
		Priority:       msg.Priority,
		Title:          msg.Subject,
		Body:           msg.Body,
		SentAt:         time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", notification.Permanent("encode stream event", err)
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients[msg.UserID]))
	for _, c := range h.clients[msg.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("stream client too slow, dropping connection",
				logger.Uint64("user_id", uint64(msg.UserID)),
				logger.String("client_id", c.id))
			h.remove(c)
		}
	}
	return event.ID, nil
}

// Serve pumps events to conn until the client disconnects, a write fails or
// ctx is done. It closes conn before returning.
func (h *Hub) Serve(ctx context.Context, userID uint, conn *websocket.Conn) {
	c := &streamClient{
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, streamBuffer),
		done:   make(chan struct{}),
	}
	h.add(c)
	defer func() {
		h.remove(c)
		_ = conn.Close()
	}()
	h.log.Debug("stream client connected", logger.Uint64("user_id", uint64(userID)), logger.String("client_id", c.id))

	conn.SetReadLimit(streamMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	// Reader: only control frames matter; any read error ends the session.
	go func() {
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(streamWriteWait))
			return
		case <-c.done:
			return
		case payload := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
