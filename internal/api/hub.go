package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/monitor"
	"github.com/oldmanpar/Pings/internal/trace"
)

// Frame is one websocket message pushed to presentation clients.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TraceLineData tags one streamed trace line with its source address.
type TraceLineData struct {
	Address string `json:"address"`
	Line    string `json:"line"`
}

// TraceDoneData is the terminal annotation of one traced address.
type TraceDoneData struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans live core updates out to websocket clients. It implements
// monitor.Notifier and trace.Sink; both call paths must never block, so each
// client has a buffered send queue and slow clients lose frames rather than
// stalling probe loops.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// HandleWS upgrades the request and serves the client until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan Frame, 256)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound messages; commands arrive over HTTP. It exists
// to notice disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
	h.mu.Unlock()
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) broadcast(frame Frame) {
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow client; skip this frame.
		}
	}
	h.mu.Unlock()
}

func (h *Hub) TargetUpdated(s monitor.Snapshot) {
	h.broadcast(Frame{Type: "target", Data: s})
}

func (h *Hub) EventUpserted(ev monitor.DisruptionEvent) {
	h.broadcast(Frame{Type: "event", Data: ev})
}

func (h *Hub) TraceLine(address, line string) {
	h.broadcast(Frame{Type: "trace_line", Data: TraceLineData{Address: address, Line: line}})
}

func (h *Hub) TraceDone(address string, status trace.Status) {
	h.broadcast(Frame{Type: "trace_done", Data: TraceDoneData{Address: address, Status: string(status)}})
}
