package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// ConsentStore persists consent request rows. Status transitions are
// expressed as conditional updates guarded on status = 'pending' so that
// concurrent responders cannot both win.
type ConsentStore struct {
	db *DB
}

// NewConsentStore creates a new consent store
func NewConsentStore(db *DB) *ConsentStore {
	return &ConsentStore{db: db}
}

// Insert persists a new consent request with status pending.
func (s *ConsentStore) Insert(ctx context.Context, r *models.ConsentRequest) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO consent_requests (id, from_handle, from_address, to_handle, template, consent_data, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.FromHandle, r.FromAddress, r.ToHandle, r.Template, r.ConsentData, r.Status)
	if err != nil {
		return fmt.Errorf("failed to insert consent request: %w", err)
	}
	return nil
}

// GetByID looks up a consent request.
func (s *ConsentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ConsentRequest, error) {
	r, err := scanRequest(s.db.Pool.QueryRow(ctx,
		selectRequest+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get consent request: %w", err)
	}
	return r, nil
}

// ListPendingFor returns pending requests addressed to handle, newest first.
func (s *ConsentStore) ListPendingFor(ctx context.Context, handle string) ([]models.ConsentRequest, error) {
	rows, err := s.db.Pool.Query(ctx,
		selectRequest+" WHERE to_handle = $1 AND status = $2 ORDER BY created_at DESC",
		handle, models.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	requests := []models.ConsentRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// UpdateStatusIfPending atomically transitions a pending request to the
// given status, recording the acceptor proof when present. Returns
// ErrRequestNotFound when the id is unknown and ErrRequestProcessed when
// the request already left pending (including a concurrent responder
// winning the race).
func (s *ConsentStore) UpdateStatusIfPending(ctx context.Context, id uuid.UUID, status string, proof json.RawMessage) (*models.ConsentRequest, error) {
	r, err := scanRequest(s.db.Pool.QueryRow(ctx,
		`UPDATE consent_requests
		 SET status = $2, acceptor_proof = COALESCE($3, acceptor_proof), updated_at = now()
		 WHERE id = $1 AND status = $4
		 RETURNING id, from_handle, from_address, to_handle, template, consent_data, acceptor_proof, status, created_at, updated_at`,
		id, status, proof, models.RequestPending))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update consent request: %w", err)
	}

	// No row moved: distinguish absent from already processed.
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, apperrors.ErrRequestProcessed
}

const selectRequest = `SELECT id, from_handle, from_address, to_handle, template, consent_data, acceptor_proof, status, created_at, updated_at
 FROM consent_requests`

func scanRequest(row pgx.Row) (*models.ConsentRequest, error) {
	var r models.ConsentRequest
	err := row.Scan(&r.ID, &r.FromHandle, &r.FromAddress, &r.ToHandle, &r.Template,
		&r.ConsentData, &r.AcceptorProof, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
