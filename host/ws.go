package host

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/nodehost/events"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsMessage is the frame pushed to event stream clients.
type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams host events to a websocket client. Clients that fall
// behind lose events rather than block dispatch.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan wsMessage, wsSendBuffer)
	subscribed := make(map[string]events.ListenerID)
	for _, name := range events.Names() {
		id, err := a.API.AddEventListener(name, func(_ context.Context, e events.Event) {
			select {
			case send <- wsMessage{Type: e.Name, Data: e.Data, Time: e.Time}:
			default:
				a.logger.Warn("dropping event for slow websocket client", "event", e.Name, "remote", r.RemoteAddr)
			}
		})
		if err == nil {
			subscribed[name] = id
		}
	}
	defer func() {
		for name, id := range subscribed {
			a.API.RemoveEventListener(name, id)
		}
	}()

	// The client never sends anything meaningful; reading only detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
