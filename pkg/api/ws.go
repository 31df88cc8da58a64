package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/notify"
)

// Hub fans notification events out to each user's connected websocket
// clients. A user may hold several connections (tabs); every one receives
// the same event stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool
}

type client struct {
	user string
	send chan []byte
	conn *websocket.Conn
}

func NewHub() *Hub {
	return &Hub{clients: map[string]map[*client]bool{}}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.clients[c.user] == nil {
		h.clients[c.user] = map[*client]bool{}
	}
	h.clients[c.user][c] = true
	h.mu.Unlock()
}

// unregister removes a client and reports how many connections the user
// still holds.
func (h *Hub) unregister(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.user]; ok {
		if set[c] {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.user)
			return 0
		}
		return len(set)
	}
	return 0
}

func (h *Hub) broadcast(user string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[user] {
		select {
		case c.send <- data:
		default:
			// slow client; it will be dropped by its writer
			logger.Warn("ws_client_backpressure", "user", user)
		}
	}
}

// Sink returns a notify.Sink that pushes this user's emissions over the
// hub.
func (h *Hub) Sink(user string) notify.Sink {
	return hubSink{h: h, user: user}
}

type hubSink struct {
	h    *Hub
	user string
}

type wsEvent struct {
	Type   string             `json:"type"`
	Popup  *notify.PopupEvent `json:"popup,omitempty"`
	Key    *notify.CompositeKey `json:"key,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (s hubSink) push(ev wsEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("ws_event_marshal_failed", "user", s.user, "error", err)
		return
	}
	s.h.broadcast(s.user, b)
}

func (s hubSink) ShowPopup(ev notify.PopupEvent) {
	s.push(wsEvent{Type: "popup", Popup: &ev})
}

func (s hubSink) RetractPopup(key notify.CompositeKey) {
	s.push(wsEvent{Type: "retract", Key: &key})
}

func (s hubSink) WriteFailed(key notify.CompositeKey, err error) {
	s.push(wsEvent{Type: "write_failed", Key: &key, Error: err.Error()})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the CORS middleware in front
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and pumps hub events to the client
// until it disconnects.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", user, "error", err)
		return
	}
	c := &client{user: user, send: make(chan []byte, 64), conn: conn}
	a.hub.register(c)

	// reader: discard inbound frames, detect disconnect
	go func() {
		defer func() {
			a.hub.unregister(c)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// writer
	go func() {
		for data := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = conn.Close()
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()
}
