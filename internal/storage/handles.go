package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// HandleStore persists handle rows. Uniqueness of both the handle and the
// wallet address is enforced by database constraints.
type HandleStore struct {
	db *DB
}

// NewHandleStore creates a new handle store
func NewHandleStore(db *DB) *HandleStore {
	return &HandleStore{db: db}
}

// Insert persists a new handle row. Constraint violations from concurrent
// claims surface as the same conflict errors the pre-checks produce.
func (s *HandleStore) Insert(ctx context.Context, h *models.Handle) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO handles (handle, wallet_address, device_public_key, registration_signature)
		 VALUES ($1, $2, $3, $4)`,
		h.Handle, h.WalletAddress, h.DevicePublicKey, h.RegistrationSignature)
	if err != nil {
		switch uniqueViolation(err) {
		case "handles_pkey":
			return apperrors.ErrHandleTaken
		case "handles_wallet_address_key":
			return apperrors.ErrWalletBound
		}
		return fmt.Errorf("failed to insert handle: %w", err)
	}
	return nil
}

// GetByHandle looks up a handle row by its canonical (lowercase) handle.
func (s *HandleStore) GetByHandle(ctx context.Context, handle string) (*models.Handle, error) {
	var h models.Handle
	err := s.db.Pool.QueryRow(ctx,
		`SELECT handle, wallet_address, device_public_key, registration_signature, created_at, updated_at
		 FROM handles WHERE handle = $1`,
		handle).Scan(&h.Handle, &h.WalletAddress, &h.DevicePublicKey,
		&h.RegistrationSignature, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrHandleNotFound
		}
		return nil, fmt.Errorf("failed to get handle: %w", err)
	}
	return &h, nil
}

// HandleExists reports whether the canonical handle is already claimed.
func (s *HandleStore) HandleExists(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM handles WHERE handle = $1)",
		handle).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check handle existence: %w", err)
	}
	return exists, nil
}

// WalletExists reports whether the wallet address is already bound.
// Addresses are stored checksummed but compared case-insensitively.
func (s *HandleStore) WalletExists(ctx context.Context, walletAddress string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM handles WHERE lower(wallet_address) = lower($1))",
		walletAddress).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet existence: %w", err)
	}
	return exists, nil
}
