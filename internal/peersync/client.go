package peersync

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/posyncgo/internal/config"
	"github.com/xelth-com/posyncgo/internal/identity"
	"github.com/xelth-com/posyncgo/internal/protocol"
)

// State of the connect/reconnect machine
type State string

const (
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateLocalFallback State = "local_fallback"
)

// Transport method names reported in status snapshots
const (
	TransportWebSocket    = "WebSocket"
	TransportLocalStorage = "LocalStorage"
	TransportNone         = "none"
)

// Status is the liveness snapshot exposed to the UI
type Status struct {
	Online          bool   `json:"online"`
	TransportMethod string `json:"transportMethod"`
	PeerCount       int    `json:"peerCount"`
}

// Client keeps one device connected to the relay on a best-effort
// basis. Broadcast and Subscribe never block or fail; connectivity
// trouble is absorbed by the state machine and, after repeated failed
// reconnects, by the degraded same-machine fallback.
type Client struct {
	cfg      config.ClientConfig
	device   *identity.DeviceIdentity
	loopback Store

	listeners *listenerSet
	dedup     *deduplicator

	mu           sync.Mutex
	state        State
	connectionID string
	outbound     chan []byte // nil unless connected
	attempts     int
	queue        []protocol.SyncPayload
	peers        map[string]protocol.DeviceInfo
	pending      map[string]chan protocol.PingPayload
	loopUnsub    func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient builds a client for the given device identity. A nil store
// defaults to the file-backed slot named by the config.
func NewClient(cfg config.ClientConfig, device *identity.DeviceIdentity, store Store) *Client {
	if store == nil {
		store = NewFileStore(cfg.LoopbackChannel, cfg.LoopbackClearDelay)
	}
	return &Client{
		cfg:       cfg,
		device:    device,
		loopback:  store,
		listeners: newListenerSet(),
		dedup:     newDeduplicator(5 * time.Minute),
		state:     StateConnecting,
		peers:     make(map[string]protocol.DeviceInfo),
		pending:   make(map[string]chan protocol.PingPayload),
		stop:      make(chan struct{}),
	}
}

// Start launches the state machine. It returns immediately; connection
// progress is observable through Status.
func (c *Client) Start() {
	go c.run()
}

// Close tears the client down for good
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.Lock()
	if c.loopUnsub != nil {
		c.loopUnsub()
		c.loopUnsub = nil
	}
	c.mu.Unlock()
	c.loopback.Close()
}

// Broadcast hands a payload to every other device on the network,
// best-effort. Never blocks and never fails: when not connected the
// payload is queued (or mirrored through the local slot in fallback).
func (c *Client) Broadcast(payload protocol.SyncPayload) {
	if payload.Timestamp == 0 {
		payload.Timestamp = protocol.NowMillis()
	}
	payload.OriginDeviceID = c.device.DeviceID

	c.mu.Lock()
	state := c.state
	out := c.outbound
	c.mu.Unlock()

	switch {
	case state == StateConnected && out != nil:
		env := protocol.NewEnvelope(protocol.TypeSync, c.device.DeviceID, payload)
		if !c.trySend(out, env) {
			c.enqueuePayload(payload)
		}
	case state == StateLocalFallback:
		c.publishLoopback(payload)
	default:
		c.enqueuePayload(payload)
	}
}

// Subscribe registers a listener for payloads from other devices and
// returns its unsubscribe function
func (c *Client) Subscribe(fn Listener) func() {
	return c.listeners.add(fn)
}

// Status reports the current liveness snapshot. Fallback counts as
// online: degraded but reporting ready.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{}
	switch c.state {
	case StateConnected:
		st.Online = true
		st.TransportMethod = TransportWebSocket
	case StateLocalFallback:
		st.Online = true
		st.TransportMethod = TransportLocalStorage
	default:
		st.TransportMethod = TransportNone
	}
	for id := range c.peers {
		if id != c.device.DeviceID {
			st.PeerCount++
		}
	}
	return st
}

// Peers returns the client's read-mostly view of the device directory
func (c *Client) Peers() []protocol.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]protocol.DeviceInfo, 0, len(c.peers))
	for _, info := range c.peers {
		list = append(list, info)
	}
	return list
}

// CurrentState exposes the machine state for diagnostics and tests
func (c *Client) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// backoffDelay computes the capped exponential delay before reconnect
// attempt n (1-based): base, 2·base, 4·base ... capped at max
func backoffDelay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// run is the connect/reconnect loop. It exits when the client closes
// or when the attempt ceiling pushes it into permanent local fallback.
func (c *Client) run() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.setState(StateConnecting)
		ws, _, err := websocket.DefaultDialer.Dial(c.cfg.RelayURL, nil)
		if err == nil {
			c.session(ws)
			select {
			case <-c.stop:
				return
			default:
			}
		} else {
			log.Printf("Sync: relay dial failed: %v", err)
		}

		if c.failedAttempt() {
			c.enterFallback()
			return
		}
	}
}

// failedAttempt counts one failed dial, waits out the backoff before
// the next retry, and reports whether the ceiling was reached. The
// first dial is not a retry: the client waits the computed delay
// before each of MaxReconnectAttempts retries and gives up only once
// the last of them has also failed.
func (c *Client) failedAttempt() bool {
	c.mu.Lock()
	c.state = StateReconnecting
	c.attempts++
	n := c.attempts
	c.mu.Unlock()

	if n > c.cfg.MaxReconnectAttempts {
		return true
	}

	delay := backoffDelay(n, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	log.Printf("Sync: reconnect attempt %d/%d in %s", n, c.cfg.MaxReconnectAttempts, delay)
	select {
	case <-time.After(delay):
	case <-c.stop:
	}
	return false
}

// session owns one live relay connection until it drops
func (c *Client) session(ws *websocket.Conn) {
	out := make(chan []byte, 256)
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateConnected
	c.attempts = 0
	c.outbound = out
	queued := c.queue
	c.queue = nil
	// Seed the directory view with our own entry; the relay's
	// device_list replaces it once registration lands
	c.peers[c.device.DeviceID] = c.device.Info()
	c.mu.Unlock()

	log.Printf("🔄 Sync: connected to relay %s", c.cfg.RelayURL)

	go writePump(ws, out, done)
	go c.heartbeatLoop(out, done)

	// Announce ourselves and drain anything queued while offline
	c.trySend(out, protocol.NewEnvelope(protocol.TypeDiscovery, c.device.DeviceID, nil))
	c.flushQueued(out, queued)
	c.trySend(out, protocol.NewEnvelope(protocol.TypeRegisterDevice, c.device.DeviceID, protocol.RegisterPayload{
		Name:      c.device.Name,
		Kind:      c.device.Kind,
		Role:      c.device.Role,
		Timestamp: protocol.NowMillis(),
	}))

	// Unblock the read loop on Close
	go func() {
		select {
		case <-c.stop:
			ws.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		c.handleEnvelope(raw)
	}

	close(done)
	ws.Close()

	c.mu.Lock()
	c.outbound = nil
	c.connectionID = ""
	c.state = StateReconnecting
	c.mu.Unlock()

	log.Printf("Sync: relay connection lost")
}

// heartbeatLoop keeps the relay's liveness view of this device fresh
func (c *Client) heartbeatLoop(out chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.trySend(out, protocol.NewEnvelope(protocol.TypeHeartbeat, c.device.DeviceID, protocol.HeartbeatPayload{
				Timestamp: protocol.NowMillis(),
			}))
		case <-done:
			return
		case <-c.stop:
			return
		}
	}
}

// handleEnvelope processes one inbound relay message. Malformed input
// is logged and dropped.
func (c *Client) handleEnvelope(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Sync: malformed envelope: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeConnected:
		var ack protocol.ConnectedPayload
		if env.Data != nil && json.Unmarshal(env.Data, &ack) == nil {
			c.mu.Lock()
			c.connectionID = ack.ConnectionID
			c.mu.Unlock()
		}

	case protocol.TypeSync:
		c.handleSync(env)

	case protocol.TypeDeviceList:
		var list []protocol.DeviceInfo
		if err := json.Unmarshal(env.Data, &list); err != nil {
			log.Printf("Sync: bad device_list: %v", err)
			return
		}
		peers := make(map[string]protocol.DeviceInfo, len(list))
		for _, info := range list {
			peers[info.DeviceID] = info
		}
		c.mu.Lock()
		c.peers = peers
		c.mu.Unlock()

	case protocol.TypePong:
		var pong protocol.PingPayload
		if err := json.Unmarshal(env.Data, &pong); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[pong.ID]
		if ok {
			delete(c.pending, pong.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- pong
		}

	case protocol.TypeHeartbeatAck:
		// liveness confirmed; nothing to update client-side

	default:
		// discovery/register/ping are client→server kinds; ignore echoes
	}
}

// handleSync suppresses self-echo and duplicates, then dispatches
func (c *Client) handleSync(env protocol.Envelope) {
	if env.DeviceID == c.device.DeviceID {
		return
	}
	if c.dedup.isDuplicate(env.ID) {
		return
	}

	var payload protocol.SyncPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("Sync: bad sync payload: %v", err)
		return
	}
	if payload.OriginDeviceID == c.device.DeviceID {
		return
	}
	c.listeners.dispatch(payload)
}

// enterFallback switches to the same-machine storage channel for the
// rest of the process lifetime
func (c *Client) enterFallback() {
	c.mu.Lock()
	c.state = StateLocalFallback
	queued := c.queue
	c.queue = nil
	c.loopUnsub = c.loopback.Subscribe(c.onLoopback)
	c.mu.Unlock()

	log.Printf("⚠️ Sync: relay unreachable after %d attempts, falling back to local channel (same machine only)", c.cfg.MaxReconnectAttempts)

	for _, p := range queued {
		c.publishLoopback(p)
	}
	go c.drainLoop()
}

// drainLoop periodically flushes anything still queued through the
// local channel
func (c *Client) drainLoop() {
	ticker := time.NewTicker(c.cfg.LoopbackDrain)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			queued := c.queue
			c.queue = nil
			c.mu.Unlock()
			for _, p := range queued {
				c.publishLoopback(p)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) publishLoopback(payload protocol.SyncPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Sync: marshal payload: %v", err)
		return
	}
	c.loopback.Publish(raw)
}

// onLoopback receives payloads written by other contexts on this machine
func (c *Client) onLoopback(data []byte) {
	var payload protocol.SyncPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("Sync: bad loopback payload: %v", err)
		return
	}
	if payload.OriginDeviceID == c.device.DeviceID {
		return
	}
	c.listeners.dispatch(payload)
}

func (c *Client) enqueuePayload(payload protocol.SyncPayload) {
	c.mu.Lock()
	c.queue = append(c.queue, payload)
	c.mu.Unlock()
}

// flushQueued replays offline broadcasts in arrival order. Anything the
// outbound buffer cannot take goes back to the head of the queue so it
// stays ahead of payloads broadcast since the flush began.
func (c *Client) flushQueued(out chan []byte, queued []protocol.SyncPayload) {
	for i, p := range queued {
		if !c.trySend(out, protocol.NewEnvelope(protocol.TypeSync, c.device.DeviceID, p)) {
			c.mu.Lock()
			c.queue = append(append([]protocol.SyncPayload{}, queued[i:]...), c.queue...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// trySend marshals and enqueues an envelope without blocking
func (c *Client) trySend(out chan []byte, env protocol.Envelope) bool {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("Sync: marshal envelope: %v", err)
		return false
	}
	select {
	case out <- raw:
		return true
	default:
		return false
	}
}

// writePump serializes all writes to the websocket connection
func writePump(ws *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case raw := <-out:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
