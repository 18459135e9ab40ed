package store

import (
	"context"
	"testing"
	"time"
)

func TestPutDeviceStateRefreshesLastSeen(t *testing.T) {
	s, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	user, err := s.CreateUser(context.Background(), "sync@example.com", "x")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	device, err := s.UpsertDevice(context.Background(), user.ID, "device-1", "phone")
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	firstSeen := device.LastSeenAt

	time.Sleep(20 * time.Millisecond)
	if err := s.PutDeviceState(context.Background(), user.ID, "device-1", `{"cursor":"abc"}`); err != nil {
		t.Fatalf("PutDeviceState: %v", err)
	}

	state, err := s.GetDeviceState(context.Background(), user.ID, "device-1")
	if err != nil {
		t.Fatalf("GetDeviceState: %v", err)
	}
	if state.StateJSON != `{"cursor":"abc"}` {
		t.Errorf("state = %q", state.StateJSON)
	}

	devices, err := s.ListDevices(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	if !devices[0].LastSeenAt.After(firstSeen) {
		t.Errorf("last seen not refreshed: %v vs %v", devices[0].LastSeenAt, firstSeen)
	}
}
