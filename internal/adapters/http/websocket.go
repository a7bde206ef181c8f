package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/korope-ng/korope/internal/adapters/nats"
	"github.com/korope-ng/korope/internal/pkg/metrics"
)

// wsMessage is sent from client to subscribe/unsubscribe to trip events.
type wsMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	TripID string `json:"trip_id"`
}

// WebSocketHandler returns a handler that relays trip events from NATS to the
// connected traveler. Clients send {"action":"subscribe","trip_id":"..."}
// and only receive events for trips they own.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		userID, _ := c.Locals("user_id").(string)
		logger := slog.Default().With("remote_addr", c.RemoteAddr().String(), "user_id", userID)
		logger.Info("ws client connected")

		var mu sync.Mutex
		subs := make(map[string]*nats.Subscription) // trip id -> subscription

		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}
			if m.TripID == "" {
				_ = writeJSON(map[string]string{"error": "trip_id is required"})
				continue
			}

			switch m.Action {
			case "subscribe":
				if _, exists := subs[m.TripID]; exists {
					_ = writeJSON(map[string]string{"status": "already subscribed", "trip_id": m.TripID})
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_, err := deps.Trips.GetTrip(ctx, m.TripID, userID)
				cancel()
				if err != nil {
					_ = writeJSON(map[string]string{"error": "trip not found", "trip_id": m.TripID})
					continue
				}
				s, err := deps.NATS.Subscribe(natsadapter.EventSubject(m.TripID), func(msg *nats.Msg) {
					_ = writeJSON(json.RawMessage(msg.Data))
				})
				if err != nil {
					_ = writeJSON(map[string]string{"error": "subscribe failed: " + err.Error()})
					continue
				}
				subs[m.TripID] = s
				_ = writeJSON(map[string]string{"status": "subscribed", "trip_id": m.TripID})

			case "unsubscribe":
				if s, exists := subs[m.TripID]; exists {
					_ = s.Unsubscribe()
					delete(subs, m.TripID)
					_ = writeJSON(map[string]string{"status": "unsubscribed", "trip_id": m.TripID})
				} else {
					_ = writeJSON(map[string]string{"error": "not subscribed to " + m.TripID})
				}

			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		close(done)
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		logger.Info("ws client disconnected")
	}
}
