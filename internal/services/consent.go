package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// ConsentStore is the persistence capability of the consent ledger. Status
// transitions must be conditional on the current status being pending.
type ConsentStore interface {
	Insert(ctx context.Context, r *models.ConsentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ConsentRequest, error)
	ListPendingFor(ctx context.Context, handle string) ([]models.ConsentRequest, error)
	UpdateStatusIfPending(ctx context.Context, id uuid.UUID, status string, proof json.RawMessage) (*models.ConsentRequest, error)
}

// Notifier receives lifecycle events. Implementations are fire-and-forget;
// the ledger never waits on or fails from delivery.
type Notifier interface {
	ConsentRequested(req *models.ConsentRequest)
	ConsentResponded(req *models.ConsentRequest)
}

// ConsentService tracks the lifecycle of peer-to-peer consent proposals
// between two registered handles.
type ConsentService struct {
	store   ConsentStore
	handles HandleResolver
	notify  Notifier
	logger  zerolog.Logger
}

// NewConsentService creates a new consent request ledger
func NewConsentService(store ConsentStore, handles HandleResolver, notify Notifier, logger zerolog.Logger) *ConsentService {
	return &ConsentService{store: store, handles: handles, notify: notify, logger: logger}
}

// CreateRequest represents a new consent proposal
type CreateRequest struct {
	FromHandle  string          `json:"from_handle" binding:"required"`
	FromAddress string          `json:"from_address" binding:"required"`
	ToHandle    string          `json:"to_handle" binding:"required"`
	Template    string          `json:"template" binding:"required"`
	ConsentData json.RawMessage `json:"consent_data"`
}

// AcceptorProof carries attestation hashes recorded with an acceptance.
// The evidence itself is verified by the client and the chain, not here.
type AcceptorProof struct {
	BiometricHash string `json:"biometric_hash,omitempty"`
	VoiceHash     string `json:"voice_hash,omitempty"`
	DeviceHash    string `json:"device_hash,omitempty"`
	GeoHash       string `json:"geo_hash,omitempty"`
	TimeHash      string `json:"time_hash,omitempty"`
	Duress        bool   `json:"duress,omitempty"`
}

// Create validates both endpoints and persists a pending request. The two
// handle lookups run concurrently and a failure names the side that was
// unregistered. The recipient is notified asynchronously; delivery failure
// never fails the creation.
func (s *ConsentService) Create(ctx context.Context, req CreateRequest) (*models.ConsentRequest, error) {
	fromHandle := CanonicalHandle(req.FromHandle)
	toHandle := CanonicalHandle(req.ToHandle)

	details := map[string]string{}
	if !handleRegex.MatchString(fromHandle) {
		details["from_handle"] = "is not a valid handle"
	}
	if !handleRegex.MatchString(toHandle) {
		details["to_handle"] = "is not a valid handle"
	}
	if !addressRegex.MatchString(req.FromAddress) {
		details["from_address"] = "must be a 0x-prefixed 40-hex-digit address"
	}
	if strings.TrimSpace(req.Template) == "" {
		details["template"] = "is required"
	}
	if len(details) > 0 {
		return nil, apperrors.Validation(details)
	}

	var fromErr, toErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, toErr = s.handles.GetByHandle(ctx, toHandle)
	}()
	_, fromErr = s.handles.GetByHandle(ctx, fromHandle)
	<-done

	if fromErr != nil {
		if apperrors.Is(fromErr, apperrors.CodeNotFound) {
			return nil, apperrors.ErrFromHandleUnknown
		}
		return nil, fromErr
	}
	if toErr != nil {
		if apperrors.Is(toErr, apperrors.CodeNotFound) {
			return nil, apperrors.ErrToHandleUnknown
		}
		return nil, toErr
	}

	r := &models.ConsentRequest{
		ID:          uuid.New(),
		FromHandle:  fromHandle,
		FromAddress: req.FromAddress,
		ToHandle:    toHandle,
		Template:    req.Template,
		ConsentData: req.ConsentData,
		Status:      models.RequestPending,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", r.ID.String()).
		Str("from", fromHandle).
		Str("to", toHandle).
		Str("template", r.Template).
		Msg("consent request created")

	s.notify.ConsentRequested(r)
	return r, nil
}

// ListPending returns pending requests addressed to handle, newest first.
func (s *ConsentService) ListPending(ctx context.Context, handle string) ([]models.ConsentRequest, error) {
	canonical := CanonicalHandle(handle)
	if canonical == "" {
		return nil, apperrors.Validation(map[string]string{"handle": "is required"})
	}
	return s.store.ListPendingFor(ctx, canonical)
}

// Accept transitions a pending request to accepted exactly once, recording
// the acceptor's attestation material verbatim. A request that already
// left pending yields an invalid-state error, including when a concurrent
// accept won the race.
func (s *ConsentService) Accept(ctx context.Context, id string, proof AcceptorProof) (*models.ConsentRequest, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.ErrRequestNotFound
	}

	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to encode acceptor proof", err)
	}

	r, err := s.store.UpdateStatusIfPending(ctx, requestID, models.RequestAccepted, proofJSON)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", id).Msg("consent request accepted")
	s.notify.ConsentResponded(r)
	return r, nil
}

// Reject transitions a pending request to rejected. Guarded by the same
// status precondition as Accept: rejecting an already-processed request
// returns an invalid-state error instead of overwriting the outcome.
func (s *ConsentService) Reject(ctx context.Context, id string) (*models.ConsentRequest, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.ErrRequestNotFound
	}

	r, err := s.store.UpdateStatusIfPending(ctx, requestID, models.RequestRejected, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", id).Msg("consent request rejected")
	s.notify.ConsentResponded(r)
	return r, nil
}
