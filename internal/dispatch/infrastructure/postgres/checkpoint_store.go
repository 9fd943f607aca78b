// Package postgres persists dispatch engine checkpoints. The engine's
// in-memory state stays authoritative; these rows only seed a restart.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	dispatchapp "terminal-cloud/internal/dispatch/application"
)

// CheckpointStore stores one snapshot row per device session.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore constructs a checkpoint store.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Save replaces the stored checkpoint with the given snapshots.
func (s *CheckpointStore) Save(ctx context.Context, snapshots []dispatchapp.DeviceSnapshot) error {
	if s == nil || s.db == nil {
		return errors.New("checkpoint store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, snap := range snapshots {
		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_checkpoints (sn, snapshot, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (sn) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
			snap.SN, payload, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns all stored device snapshots.
func (s *CheckpointStore) Load(ctx context.Context) ([]dispatchapp.DeviceSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("checkpoint store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM device_checkpoints ORDER BY sn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispatchapp.DeviceSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var snap dispatchapp.DeviceSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
