package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/xelth-com/posyncgo/internal/protocol"
)

const (
	configDir    = ".posync"
	identityFile = "device_identity.json"
)

// DeviceIdentity is the stable per-installation identity of this device.
// The id survives restarts and reconnects, which is what lets the relay
// tell "same device, new connection" apart from a new device.
type DeviceIdentity struct {
	DeviceID string              `json:"device_id"`
	Name     string              `json:"name"`
	Kind     string              `json:"kind"`
	Role     protocol.DeviceRole `json:"role"`
}

// LoadOrGenerate ensures the device has a stable identity across restarts.
// It checks ENV vars first, then a local file, and generates a new identity
// if neither exists.
func LoadOrGenerate(dir string) (*DeviceIdentity, error) {
	// 1. Check Env Vars (Priority)
	if envID := os.Getenv("SYNC_DEVICE_ID"); envID != "" {
		return &DeviceIdentity{
			DeviceID: envID,
			Name:     envOr("SYNC_DEVICE_NAME", defaultName()),
			Kind:     envOr("SYNC_DEVICE_KIND", "desktop"),
			Role:     protocol.DeviceRole(envOr("SYNC_DEVICE_ROLE", string(protocol.RoleGeneral))),
		}, nil
	}

	if dir == "" {
		dir = configDir
	}
	path := filepath.Join(dir, identityFile)

	// 2. Check local persistence file
	if data, err := os.ReadFile(path); err == nil {
		var id DeviceIdentity
		if err := json.Unmarshal(data, &id); err == nil && id.DeviceID != "" {
			return &id, nil
		}
	}

	// 3. Generate New Identity
	id := &DeviceIdentity{
		DeviceID: uuid.New().String(),
		Name:     defaultName(),
		Kind:     "desktop",
		Role:     protocol.RoleGeneral,
	}

	// Save to file for persistence
	if err := os.MkdirAll(dir, 0755); err != nil {
		return id, err
	}
	data, _ := json.MarshalIndent(id, "", "  ")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return id, err
	}

	return id, nil
}

// Info converts the identity into its directory representation
func (d *DeviceIdentity) Info() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		DeviceID: d.DeviceID,
		Name:     d.Name,
		Kind:     d.Kind,
		Role:     d.Role,
		Status:   protocol.DeviceOnline,
	}
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "pos-" + runtime.GOOS
	}
	return host
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
