package relay

import (
	"sync"
	"time"
)

// ConnectionRecord tracks one live peer connection. Owned exclusively
// by the relay; connection ids are minted at accept time and never
// reused while the connection is open.
type ConnectionRecord struct {
	ConnectionID string    `json:"connectionId"`
	RemoteAddr   string    `json:"remoteAddr"`
	UserAgent    string    `json:"userAgent,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	DeviceID     string    `json:"deviceId,omitempty"` // empty until register_device
}

// Registry holds the records of all currently-open connections
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*ConnectionRecord
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*ConnectionRecord),
	}
}

// Add registers a freshly accepted connection
func (r *Registry) Add(rec *ConnectionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = now
	}
	rec.LastSeenAt = now
	r.conns[rec.ConnectionID] = rec
}

// Touch updates the liveness timestamp for a connection. Called on
// every inbound message.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.conns[connectionID]; ok {
		rec.LastSeenAt = time.Now()
	}
}

// SetDevice records the self-reported device identity behind a connection
func (r *Registry) SetDevice(connectionID, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.conns[connectionID]; ok {
		rec.DeviceID = deviceID
	}
}

// Get returns a copy of the record for a connection, if present
func (r *Registry) Get(connectionID string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.conns[connectionID]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *rec, true
}

// Remove deletes a connection record and returns it for cleanup of
// dependent state (the device directory entry)
func (r *Registry) Remove(connectionID string) (ConnectionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[connectionID]
	if !ok {
		return ConnectionRecord{}, false
	}
	delete(r.conns, connectionID)
	return *rec, true
}

// Stale returns the ids of connections with no activity since the cutoff
func (r *Registry) Stale(olderThan time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for id, rec := range r.conns {
		if rec.LastSeenAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
