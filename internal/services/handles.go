package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

var (
	handleRegex  = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// HandleStore is the persistence capability the registry needs.
type HandleStore interface {
	Insert(ctx context.Context, h *models.Handle) error
	GetByHandle(ctx context.Context, handle string) (*models.Handle, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
	WalletExists(ctx context.Context, walletAddress string) (bool, error)
}

// HandleService is the handle registry: the durable handle -> wallet
// binding with its two uniqueness invariants.
type HandleService struct {
	store  HandleStore
	logger zerolog.Logger
}

// NewHandleService creates a new handle registry service
func NewHandleService(store HandleStore, logger zerolog.Logger) *HandleService {
	return &HandleService{store: store, logger: logger}
}

// ClaimRequest represents a handle claim
type ClaimRequest struct {
	Handle          string `json:"handle" binding:"required"`
	WalletAddress   string `json:"wallet_address" binding:"required"`
	DevicePublicKey string `json:"device_public_key" binding:"required"`
	Signature       string `json:"signature" binding:"required"`
}

// Claim binds a handle to a wallet address. The handle is canonicalized to
// lowercase and the address to its checksummed form before any comparison
// or write. Handle and wallet uniqueness are checked independently so each
// failure carries its own message; the database constraints settle races
// the pre-checks miss.
func (s *HandleService) Claim(ctx context.Context, req ClaimRequest) (*models.Handle, error) {
	handle := CanonicalHandle(req.Handle)

	details := map[string]string{}
	if !handleRegex.MatchString(handle) {
		details["handle"] = "must be 3-32 characters: lowercase letters, digits and underscores"
	}
	if !addressRegex.MatchString(req.WalletAddress) {
		details["wallet_address"] = "must be a 0x-prefixed 40-hex-digit address"
	}
	if strings.TrimSpace(req.DevicePublicKey) == "" {
		details["device_public_key"] = "is required"
	}
	if strings.TrimSpace(req.Signature) == "" {
		details["signature"] = "is required"
	}
	if len(details) > 0 {
		return nil, apperrors.Validation(details)
	}

	walletAddress := common.HexToAddress(req.WalletAddress).Hex()

	if exists, err := s.store.HandleExists(ctx, handle); err != nil {
		s.logger.Error().Err(err).Str("handle", handle).Msg("handle existence check failed")
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to check handle", err)
	} else if exists {
		return nil, apperrors.ErrHandleTaken
	}

	if exists, err := s.store.WalletExists(ctx, walletAddress); err != nil {
		s.logger.Error().Err(err).Str("wallet", walletAddress).Msg("wallet existence check failed")
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to check wallet", err)
	} else if exists {
		return nil, apperrors.ErrWalletBound
	}

	signature := req.Signature
	h := &models.Handle{
		Handle:                handle,
		WalletAddress:         walletAddress,
		DevicePublicKey:       req.DevicePublicKey,
		RegistrationSignature: &signature,
	}
	if err := s.store.Insert(ctx, h); err != nil {
		return nil, err
	}

	s.logger.Info().Str("handle", handle).Str("wallet", walletAddress).Msg("handle claimed")
	return h, nil
}

// Resolve looks up a handle by its canonical form.
func (s *HandleService) Resolve(ctx context.Context, handle string) (*models.Handle, error) {
	return s.store.GetByHandle(ctx, CanonicalHandle(handle))
}

// CanonicalHandle lowercases and trims a handle for comparison and storage.
func CanonicalHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
