package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB
)

// connection is a middleman between one websocket peer and the hub
type connection struct {
	hub *Hub

	// The websocket connection.
	ws *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Connection identity minted by the hub at accept time
	id string

	// Guards send against enqueue-after-close: the stale sweep can
	// tear a connection down while its reader is mid-dispatch
	closeMu sync.Mutex
	closed  bool
}

// readPump pumps messages from the websocket connection to the hub.
// Liveness is tracked at the protocol level (heartbeat envelopes plus
// the stale sweep), so no read deadline is armed here.
func (c *connection) readPump() {
	defer func() {
		c.hub.onClose(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Relay: read error on %s: %v", c.id, err)
			}
			return
		}
		c.hub.onMessage(c, message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *connection) writePump() {
	defer c.ws.Close()

	for message := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	// The hub closed the channel.
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

// enqueue hands raw bytes to the write pump without blocking the hub.
// A full buffer means the peer is dead or hopelessly behind; the
// message is dropped (delivery is best-effort).
func (c *connection) enqueue(message []byte) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound channel exactly once
func (c *connection) shutdown() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendEnvelope marshals and enqueues an envelope for this peer only
func (c *connection) sendEnvelope(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Relay: marshal error for %s: %v", c.id, err)
		return
	}
	c.enqueue(data)
}
