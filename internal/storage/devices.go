package storage

import (
	"context"
	"fmt"

	"github.com/consentgrid/backend/internal/models"
)

// DeviceStore persists device push registrations for the notification
// dispatcher. One row per (handle, device_id); re-registration refreshes
// the token in place.
type DeviceStore struct {
	db *DB
}

// NewDeviceStore creates a new device store
func NewDeviceStore(db *DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Upsert registers or refreshes a device push token.
func (s *DeviceStore) Upsert(ctx context.Context, d *models.DeviceRegistration) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO device_registrations (handle, device_id, push_token, platform)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (handle, device_id) DO UPDATE
		 SET push_token = EXCLUDED.push_token, platform = EXCLUDED.platform, updated_at = now()`,
		d.Handle, d.DeviceID, d.PushToken, d.Platform)
	if err != nil {
		return fmt.Errorf("failed to upsert device registration: %w", err)
	}
	return nil
}

// TokensFor returns the push tokens registered for a handle.
func (s *DeviceStore) TokensFor(ctx context.Context, handle string) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT push_token FROM device_registrations WHERE handle = $1",
		handle)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
