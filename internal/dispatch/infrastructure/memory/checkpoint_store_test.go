package memory

import (
	"context"
	"testing"
	"time"

	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatch "terminal-cloud/internal/dispatch/domain"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty store, got %d", len(loaded))
	}

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	snapshots := []dispatchapp.DeviceSnapshot{{
		SN:         "SN100",
		NextID:     3,
		LastSeenAt: now,
		Commands: []dispatch.Command{
			{DeviceSN: "SN100", ID: 1, Type: dispatch.TypeData, State: dispatch.StateAcknowledged, CreatedAt: now},
			{DeviceSN: "SN100", ID: 2, Type: dispatch.TypeCheck, State: dispatch.StateCreated, CreatedAt: now},
		},
	}}
	if err := store.Save(ctx, snapshots); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Mutating the caller's slice must not affect the stored copy.
	snapshots[0].SN = "mutated"

	loaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].SN != "SN100" || len(loaded[0].Commands) != 2 {
		t.Fatalf("unexpected snapshots: %+v", loaded)
	}
}
