package relay

import (
	"testing"

	"github.com/xelth-com/posyncgo/internal/protocol"
)

func TestDirectory_UpsertAndSnapshot(t *testing.T) {
	d := NewDirectory()

	d.Upsert(protocol.DeviceInfo{DeviceID: "kitchen-1", Name: "Kitchen Display", Role: protocol.RoleKitchenDisplay})
	d.Upsert(protocol.DeviceInfo{DeviceID: "counter-1", Name: "Front Counter", Role: protocol.RolePointOfSale})

	snap := d.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(snap))
	}
	// Snapshot is ordered by device id for stable output
	if snap[0].DeviceID != "counter-1" || snap[1].DeviceID != "kitchen-1" {
		t.Errorf("Snapshot out of order: %v", snap)
	}

	for _, info := range snap {
		if info.Status != protocol.DeviceOnline {
			t.Errorf("Device %s should be online after upsert", info.DeviceID)
		}
		if info.LastSeenAt == 0 {
			t.Errorf("Device %s should have lastSeenAt stamped", info.DeviceID)
		}
	}

	// Re-registering the same device updates in place
	d.Upsert(protocol.DeviceInfo{DeviceID: "kitchen-1", Name: "Kitchen Display 2", Role: protocol.RoleKitchenDisplay})
	if d.Count() != 2 {
		t.Errorf("Upsert of existing device should not grow the directory")
	}
	info, _ := d.Get("kitchen-1")
	if info.Name != "Kitchen Display 2" {
		t.Errorf("Expected updated name, got %q", info.Name)
	}
}

func TestDirectory_MarkOnline(t *testing.T) {
	d := NewDirectory()

	if d.MarkOnline("ghost") {
		t.Error("MarkOnline should fail for an unregistered device")
	}

	d.Upsert(protocol.DeviceInfo{DeviceID: "waiter-1", Name: "Waiter Tablet", LastSeenAt: 1})
	if !d.MarkOnline("waiter-1") {
		t.Fatal("MarkOnline should succeed for a registered device")
	}
	info, _ := d.Get("waiter-1")
	if info.LastSeenAt <= 1 {
		t.Error("MarkOnline should refresh lastSeenAt")
	}
}

func TestDirectory_Remove(t *testing.T) {
	d := NewDirectory()
	d.Upsert(protocol.DeviceInfo{DeviceID: "admin-1"})

	if !d.Remove("admin-1") {
		t.Error("Remove should report the device existed")
	}
	if d.Remove("admin-1") {
		t.Error("Second remove should report missing")
	}
	if d.Count() != 0 {
		t.Errorf("Expected empty directory, got %d", d.Count())
	}
}
