package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"
	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/hub"
	"github.com/wasmforge/wasmforge/internal/logger"
)

// SocketHandler upgrades connections and speaks the subscribe protocol.
type SocketHandler struct {
	hub *hub.Hub
}

// NewSocketHandler creates a new socket handler instance
func NewSocketHandler(h *hub.Hub) *SocketHandler {
	return &SocketHandler{hub: h}
}

// UpgradeRequired rejects plain HTTP requests on the socket route.
func (h *SocketHandler) UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return c.Status(fiber.StatusUpgradeRequired).JSON(Err(ErrMsgUpgradeRequired))
}

// Serve returns the websocket connection handler. One goroutine pumps the
// client's outbound events; the read loop below handles subscribe and
// unsubscribe frames until the peer disconnects.
func (h *SocketHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client := h.hub.NewClient()
		defer client.Close()

		go func() {
			for env := range client.Send {
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var event hub.ClientEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				h.writeError(client, "malformed event")
				continue
			}

			switch event.Event {
			case hub.EventSubscribe:
				// The request context died at upgrade time; subscribe reads
				// run on their own context.
				if err := client.Subscribe(context.Background(), event.JobID); err != nil {
					if errors.Is(err, repos.ErrJobNotFound) {
						h.writeError(client, "unknown job: "+event.JobID)
					} else {
						logger.Warnf("socket subscribe failed: %v", err)
						h.writeError(client, "subscribe failed")
					}
				}
			case hub.EventUnsubscribe:
				client.Unsubscribe(event.JobID)
			default:
				h.writeError(client, "unknown event: "+event.Event)
			}
		}
	})
}

func (h *SocketHandler) writeError(client *hub.Client, msg string) {
	data, err := json.Marshal(fiber.Map{"error": msg})
	if err != nil {
		return
	}
	select {
	case client.Send <- hub.Envelope{Event: "error", Data: data}:
	default:
	}
}
