// Package memory provides an in-process checkpoint store used when no
// database is configured. Checkpoints do not survive a restart, but the
// engine runs standalone.
package memory

import (
	"context"
	"sync"

	dispatchapp "terminal-cloud/internal/dispatch/application"
)

// CheckpointStore keeps the last snapshot in memory.
type CheckpointStore struct {
	mu        sync.Mutex
	snapshots []dispatchapp.DeviceSnapshot
}

// NewCheckpointStore constructs an in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// Save replaces the stored checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, snapshots []dispatchapp.DeviceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append([]dispatchapp.DeviceSnapshot(nil), snapshots...)
	return nil
}

// Load returns the last stored checkpoint.
func (s *CheckpointStore) Load(ctx context.Context) ([]dispatchapp.DeviceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatchapp.DeviceSnapshot(nil), s.snapshots...), nil
}
