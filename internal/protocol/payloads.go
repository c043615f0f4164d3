package protocol

import "encoding/json"

// DeviceStatus reflects relay-side liveness of a registered device
type DeviceStatus string

// DeviceOnline is the only status the relay reports: devices that go
// quiet are swept out of the directory rather than flagged offline.
const DeviceOnline DeviceStatus = "online"

// DeviceRole is an open set; these are the values the POS frontends send
type DeviceRole string

const (
	RoleKitchenDisplay DeviceRole = "kitchen-display"
	RolePointOfSale    DeviceRole = "point-of-sale"
	RoleWaiter         DeviceRole = "waiter"
	RoleAdmin          DeviceRole = "admin"
	RoleGeneral        DeviceRole = "general"
)

// DeviceInfo is the directory's view of a registered device, keyed by
// the device's self-reported id rather than its connection id.
type DeviceInfo struct {
	DeviceID   string       `json:"deviceId"`
	Name       string       `json:"name"`
	Kind       string       `json:"kind"` // phone / tablet / desktop
	Role       DeviceRole   `json:"role"`
	IP         string       `json:"ip,omitempty"`
	UserAgent  string       `json:"userAgent,omitempty"`
	LastSeenAt int64        `json:"lastSeenAt"` // unix ms
	Status     DeviceStatus `json:"status"`
}

// RegisterPayload is the data of a register_device envelope
type RegisterPayload struct {
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Role      DeviceRole `json:"role,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
	Screen    string     `json:"screen,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`
}

// SyncPayload is the application payload carried inside a sync envelope.
// The relay treats Data as opaque bytes; only the endpoints interpret it.
type SyncPayload struct {
	Domain         string          `json:"domain"` // order / table / room / payment / system / user_login
	Action         string          `json:"action"` // create / update / delete / complete / full-sync / ...
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	OriginDeviceID string          `json:"originDeviceId"`
}

// HeartbeatPayload is the data of heartbeat and heartbeat_ack envelopes
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PingPayload is the data of ping and pong envelopes. Pong echoes the
// ping's id so the sender can correlate the round trip.
type PingPayload struct {
	ID                string `json:"id"`
	Timestamp         int64  `json:"timestamp"`
	OriginalTimestamp int64  `json:"originalTimestamp,omitempty"`
}

// ConnectedPayload is the data of the server's connected acknowledgement
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	ServerTime   int64  `json:"serverTime"`
}
