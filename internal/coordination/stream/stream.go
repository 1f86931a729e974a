// Package stream exposes RTAC sessions to remote observers over
// WebSocket, fanning out session messages the same way the coordinator
// fans them out to agents, but to passive subscribers that never send
// anything back but a close frame.
//
// Grounded on the teacher's internal/server Hub/Client pair: the
// register/unregister/broadcast channel triad and the read/write pump
// goroutines are kept, generalized from a single dashboard-wide hub to
// one hub per coordination session so a remote observer can watch a
// specific standup without seeing every other session's traffic.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhema-core/rhema/internal/coordination"
)

// sendBufferSize is the per-client outbound channel depth; a slow
// observer whose channel fills is disconnected rather than allowed to
// stall the broadcast.
const sendBufferSize = 256

// EventType distinguishes the envelope kinds pushed to observers.
type EventType string

const (
	EventMessage      EventType = "message"
	EventAgentStatus  EventType = "agent_status"
	EventAlert        EventType = "alert"
)

// Event is the JSON envelope written to every connected observer.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// client is one observer's WebSocket connection.
type client struct {
	hub  *SessionHub
	conn *websocket.Conn
	send chan []byte
}

// SessionHub fans out events for a single coordination session to every
// connected observer.
type SessionHub struct {
	sessionID string

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewSessionHub creates a hub for sessionID. Callers typically keep one
// per active session and discard it when the session ends.
func NewSessionHub(sessionID string) *SessionHub {
	return &SessionHub{sessionID: sessionID, clients: make(map[*client]bool)}
}

// ClientCount reports how many observers are currently attached.
func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastMessage pushes a session message to every observer.
func (h *SessionHub) BroadcastMessage(msg coordination.Message) {
	h.broadcastJSON(Event{Type: EventMessage, Data: msg})
}

// BroadcastAgentStatus pushes an agent status change to every observer.
func (h *SessionHub) BroadcastAgentStatus(agent coordination.Agent) {
	h.broadcastJSON(Event{Type: EventAgentStatus, Data: agent})
}

// BroadcastAlert pushes a performance alert to every observer.
func (h *SessionHub) BroadcastAlert(alert coordination.PerformanceAlert) {
	h.broadcastJSON(Event{Type: EventAlert, Data: alert})
}

func (h *SessionHub) broadcastJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *SessionHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *SessionHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeObserver upgrades r to a WebSocket and attaches it to hub as a
// passive observer. Any text frame the observer sends back is a
// keepalive and is discarded; observers never inject session traffic.
func ServeObserver(hub *SessionHub, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{hub: hub, conn: conn, send: make(chan []byte, sendBufferSize)}
	hub.register(c)

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
