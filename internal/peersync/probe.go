package peersync

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

// Probe errors. The ping timeout is the one failure in this package
// that propagates to a caller.
var (
	ErrNotConnected = errors.New("peersync: not connected to relay")
	ErrPingTimeout  = errors.New("peersync: ping timed out")
)

// PingPeer measures the round trip to the relay and back. The target
// device id is informational: the relay answers pings itself rather
// than forwarding them, so the measurement reflects this device's path
// to the rendezvous point. Fails fast when not connected.
func (c *Client) PingPeer(deviceID string) (time.Duration, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.outbound == nil {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	out := c.outbound

	ping := protocol.PingPayload{
		ID:        uuid.New().String(),
		Timestamp: protocol.NowMillis(),
	}
	ch := make(chan protocol.PingPayload, 1)
	c.pending[ping.ID] = ch
	c.mu.Unlock()

	sentAt := time.Now()
	env := protocol.NewEnvelope(protocol.TypePing, c.device.DeviceID, ping)
	if !c.trySend(out, env) {
		c.dropWaiter(ping.ID)
		return 0, fmt.Errorf("peersync: send buffer full pinging %s", deviceID)
	}

	select {
	case <-ch:
		return time.Since(sentAt), nil
	case <-time.After(c.cfg.PingTimeout):
		c.dropWaiter(ping.ID)
		return 0, ErrPingTimeout
	case <-c.stop:
		c.dropWaiter(ping.ID)
		return 0, ErrNotConnected
	}
}

func (c *Client) dropWaiter(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
