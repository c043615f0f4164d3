package relay

import (
	"sort"
	"sync"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

// Directory answers "who is on the network" queries. It is keyed by the
// self-reported device id, so a device that reconnects with a new
// connection keeps its logical identity.
type Directory struct {
	mu      sync.RWMutex
	devices map[string]protocol.DeviceInfo
}

// NewDirectory creates an empty device directory
func NewDirectory() *Directory {
	return &Directory{
		devices: make(map[string]protocol.DeviceInfo),
	}
}

// Upsert adds or updates a device entry, marking it online
func (d *Directory) Upsert(info protocol.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info.Status = protocol.DeviceOnline
	if info.LastSeenAt == 0 {
		info.LastSeenAt = protocol.NowMillis()
	}
	d.devices[info.DeviceID] = info
}

// MarkOnline refreshes liveness for a registered device. Returns false
// if the device never registered.
func (d *Directory) MarkOnline(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.devices[deviceID]
	if !ok {
		return false
	}
	info.Status = protocol.DeviceOnline
	info.LastSeenAt = protocol.NowMillis()
	d.devices[deviceID] = info
	return true
}

// Remove deletes a device entry. Returns true if it existed.
func (d *Directory) Remove(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.devices[deviceID]; !ok {
		return false
	}
	delete(d.devices, deviceID)
	return true
}

// Get returns the entry for a device, if present
func (d *Directory) Get(deviceID string) (protocol.DeviceInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info, ok := d.devices[deviceID]
	return info, ok
}

// Snapshot returns all entries ordered by device id, for device_list
// broadcasts and the admin API
func (d *Directory) Snapshot() []protocol.DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]protocol.DeviceInfo, 0, len(d.devices))
	for _, info := range d.devices {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DeviceID < list[j].DeviceID })
	return list
}

// Count returns the number of known devices
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}
