package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

// Hub owns the connection registry and device directory and fans sync
// envelopes out to connected peers. All maps are guarded here; nothing
// outside the hub mutates them.
type Hub struct {
	registry  *Registry
	directory *Directory

	mu    sync.RWMutex
	conns map[string]*connection
}

// NewHub creates a hub with empty registries
func NewHub() *Hub {
	return &Hub{
		registry:  NewRegistry(),
		directory: NewDirectory(),
		conns:     make(map[string]*connection),
	}
}

// Registry exposes the connection registry (read-side, for the admin API)
func (h *Hub) Registry() *Registry { return h.registry }

// Directory exposes the device directory (read-side, for the admin API)
func (h *Hub) Directory() *Directory { return h.directory }

// accept mints a connection identity, registers the peer and sends the
// connected acknowledgement. Acceptance is unconditional while the
// listener is open.
func (h *Hub) accept(ws *websocket.Conn, userAgent string) *connection {
	c := &connection{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, 256),
		id:   uuid.New().String(),
	}

	h.registry.Add(&ConnectionRecord{
		ConnectionID: c.id,
		RemoteAddr:   ws.RemoteAddr().String(),
		UserAgent:    userAgent,
	})

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	// Server-originated envelopes carry no id
	data, _ := json.Marshal(protocol.ConnectedPayload{
		ConnectionID: c.id,
		ServerTime:   protocol.NowMillis(),
	})
	c.sendEnvelope(protocol.Envelope{
		Type:      protocol.TypeConnected,
		Data:      data,
		Timestamp: protocol.NowMillis(),
	})

	log.Printf("📱 Peer connected: %s (%s)", c.id, ws.RemoteAddr())
	return c
}

// onMessage decodes one inbound envelope and dispatches it. Malformed
// input is logged and dropped without touching the connection, so one
// bad client cannot affect the others.
func (h *Hub) onMessage(c *connection, raw []byte) {
	h.registry.Touch(c.id)

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Relay: malformed envelope from %s: %v", c.id, err)
		return
	}

	switch env.Type {
	case protocol.TypeSync:
		// Relayed verbatim, sender excluded, no acknowledgement
		h.broadcastRaw(raw, c.id)

	case protocol.TypeHeartbeat:
		if env.DeviceID != "" {
			h.directory.MarkOnline(env.DeviceID)
		}
		data, _ := json.Marshal(protocol.HeartbeatPayload{Timestamp: protocol.NowMillis()})
		c.sendEnvelope(protocol.Envelope{
			ID:        uuid.New().String(),
			Type:      protocol.TypeHeartbeatAck,
			Data:      data,
			Timestamp: protocol.NowMillis(),
		})

	case protocol.TypeDiscovery:
		// Answer the requester, then let everyone learn of each other
		c.sendEnvelope(h.deviceListEnvelope())
		h.broadcastDirectory()

	case protocol.TypeRegisterDevice:
		h.handleRegister(c, env)

	case protocol.TypePing:
		h.handlePing(c, env)

	default:
		log.Printf("Relay: unknown envelope type %q from %s", env.Type, c.id)
	}
}

// handleRegister upserts the directory entry for the sender's declared
// identity and rebroadcasts the directory
func (h *Hub) handleRegister(c *connection, env protocol.Envelope) {
	if env.DeviceID == "" {
		log.Printf("Relay: register_device without deviceId from %s", c.id)
		return
	}

	var reg protocol.RegisterPayload
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, &reg); err != nil {
			log.Printf("Relay: bad register_device payload from %s: %v", c.id, err)
			return
		}
	}

	info := protocol.DeviceInfo{
		DeviceID:  env.DeviceID,
		Name:      reg.Name,
		Kind:      reg.Kind,
		Role:      reg.Role,
		IP:        reg.IP,
		UserAgent: reg.UserAgent,
	}
	if info.Role == "" {
		info.Role = protocol.RoleGeneral
	}
	if info.IP == "" {
		if rec, ok := h.registry.Get(c.id); ok {
			info.IP = rec.RemoteAddr
		}
	}

	h.registry.SetDevice(c.id, env.DeviceID)
	h.directory.Upsert(info)
	log.Printf("📇 Device registered: %s (%s, role=%s)", reg.Name, env.DeviceID, info.Role)

	h.broadcastDirectory()
}

// handlePing answers the sender directly with a pong echoing the ping
// id. Never relayed to other peers.
func (h *Hub) handlePing(c *connection, env protocol.Envelope) {
	var ping protocol.PingPayload
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, &ping); err != nil {
			log.Printf("Relay: bad ping payload from %s: %v", c.id, err)
			return
		}
	}

	data, _ := json.Marshal(protocol.PingPayload{
		ID:                ping.ID,
		Timestamp:         protocol.NowMillis(),
		OriginalTimestamp: ping.Timestamp,
	})
	c.sendEnvelope(protocol.Envelope{
		ID:        uuid.New().String(),
		Type:      protocol.TypePong,
		Data:      data,
		Timestamp: protocol.NowMillis(),
		DeviceID:  env.DeviceID,
	})
}

// onClose tears down a connection and, if it had registered a device,
// removes the directory entry and rebroadcasts. Safe to call twice
// (read pump exit and stale sweep can race).
func (h *Hub) onClose(c *connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.shutdown()

	rec, ok := h.registry.Remove(c.id)
	log.Printf("📴 Peer disconnected: %s", c.id)

	if ok && rec.DeviceID != "" {
		if h.directory.Remove(rec.DeviceID) {
			h.broadcastDirectory()
		}
	}
}

// sweepStale force-closes connections with no inbound traffic for the
// inactivity window. Defends against half-open sockets that never sent
// a close frame.
func (h *Hub) sweepStale(staleAfter time.Duration) {
	for _, id := range h.registry.Stale(staleAfter) {
		h.mu.RLock()
		c, ok := h.conns[id]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		log.Printf("🧹 Evicting stale connection %s (idle > %s)", id, staleAfter)
		h.onClose(c)
		c.ws.Close()
	}
}

// broadcastRaw fans raw envelope bytes out to every open connection
// except the one identified by excludeID
func (h *Hub) broadcastRaw(raw []byte, excludeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.conns {
		if id == excludeID {
			continue
		}
		if !c.enqueue(raw) {
			log.Printf("Relay: dropping message for slow peer %s", id)
		}
	}
}

// broadcastDirectory pushes the full directory snapshot to every peer.
// A full snapshot per change is deliberate: device counts are tens, not
// thousands, and it keeps late joiners consistent without diff state.
func (h *Hub) broadcastDirectory() {
	env := h.deviceListEnvelope()
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("Relay: marshal device_list: %v", err)
		return
	}
	h.broadcastRaw(raw, "")
}

func (h *Hub) deviceListEnvelope() protocol.Envelope {
	data, _ := json.Marshal(h.directory.Snapshot())
	return protocol.Envelope{
		Type:      protocol.TypeDeviceList,
		Data:      data,
		Timestamp: protocol.NowMillis(),
	}
}
