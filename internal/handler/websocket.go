package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"transvisor/internal/hub"
	"transvisor/internal/view"
)

type WSHandler struct {
	hub    *hub.Hub
	panel  *view.Panel
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, panel *view.Panel, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, panel: panel, logger: logger.With("handler", "ws")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TopicsPayload struct {
	Topics []string `json:"topics"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := hub.NewClient(uuid.New().String(), 256)
	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload TopicsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			for _, topic := range h.hub.Subscribe(client, payload.Topics) {
				h.sendSnapshot(client, topic)
			}

		case "unsubscribe":
			var payload TopicsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			h.hub.Unsubscribe(client, payload.Topics)

		case "ping":
			h.send(client, hub.Message{Type: "pong"})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case msg := <-client.Send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendSnapshot gives a new subscriber the current state of a topic.
func (h *WSHandler) sendSnapshot(client *hub.Client, topic string) {
	var payload any
	switch topic {
	case hub.TopicLOS:
		payload = h.panel.WindowState()
	case hub.TopicVisibility:
		payload = h.panel.VisibilityState()
	case hub.TopicRoutes:
		payload = h.panel.Entries()
	default:
		return
	}
	h.send(client, hub.Message{Type: topic + ".snapshot", Payload: payload})
}

func (h *WSHandler) send(client *hub.Client, msg hub.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.Deliver(data) {
		h.logger.Debug("failed to send, client closed or buffer full", "client_id", client.ID)
	}
}
