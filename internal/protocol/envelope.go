package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the envelope payload
type MessageType string

const (
	TypeConnected      MessageType = "connected"
	TypeSync           MessageType = "sync"
	TypeHeartbeat      MessageType = "heartbeat"
	TypeHeartbeatAck   MessageType = "heartbeat_ack"
	TypeDiscovery      MessageType = "discovery"
	TypeRegisterDevice MessageType = "register_device"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeDeviceList     MessageType = "device_list"
)

// Envelope is the wire unit exchanged between devices and the relay.
// ID is optional on receive: server-originated connected/device_list
// messages omit it.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix ms
	DeviceID  string          `json:"deviceId,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id and current timestamp.
// The payload is marshaled immediately; a payload that cannot be
// marshaled is sent as null rather than failing the caller.
func NewEnvelope(msgType MessageType, deviceID string, payload interface{}) Envelope {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Data:      raw,
		Timestamp: NowMillis(),
		DeviceID:  deviceID,
	}
}

// NowMillis returns the current wall clock as unix milliseconds,
// the timestamp unit used everywhere on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
