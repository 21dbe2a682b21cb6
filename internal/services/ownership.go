package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// HandleResolver is the read-only registry view the verifier and the
// consent ledger depend on.
type HandleResolver interface {
	GetByHandle(ctx context.Context, handle string) (*models.Handle, error)
}

// OwnershipService proves continued control of a wallet bound to a handle
// via a challenge-response signature protocol. No challenge state is kept
// server-side: the proof rests on the signature recovering the bound
// address over the exact challenge string echoed back by the client. The
// embedded issue timestamp provides freshness only; there is no single-use
// enforcement.
type OwnershipService struct {
	handles HandleResolver
}

// NewOwnershipService creates a new ownership verifier
func NewOwnershipService(handles HandleResolver) *OwnershipService {
	return &OwnershipService{handles: handles}
}

// ChallengeRequest represents a challenge issuance request
type ChallengeRequest struct {
	Handle        string `json:"handle" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// VerifyRequest represents an ownership verification request
type VerifyRequest struct {
	Handle        string `json:"handle" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Challenge     string `json:"challenge" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

// IssueChallenge returns a fresh challenge string for the handle. Fails
// when the handle is unregistered, or with a forbidden error when the
// supplied address does not match the bound one (case-insensitively).
func (s *OwnershipService) IssueChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	h, err := s.handles.GetByHandle(ctx, CanonicalHandle(req.Handle))
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(h.WalletAddress, req.WalletAddress) {
		return "", apperrors.ErrWalletMismatch
	}

	challenge := fmt.Sprintf("Prove ownership of @%s\nWallet: %s\nIssued at: %s",
		h.Handle, h.WalletAddress, time.Now().UTC().Format(time.RFC3339Nano))
	return challenge, nil
}

// Verify checks that signature over the exact challenge string recovers
// the wallet address bound to the handle. Address mismatches and malformed
// signatures both collapse to false; only an unregistered handle is an
// error. The call is side-effect-free.
func (s *OwnershipService) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	h, err := s.handles.GetByHandle(ctx, CanonicalHandle(req.Handle))
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(h.WalletAddress, req.WalletAddress) {
		return false, nil
	}

	recovered, ok := recoverSigner(req.Challenge, req.Signature)
	if !ok {
		return false, nil
	}
	return strings.EqualFold(recovered, h.WalletAddress), nil
}

// recoverSigner recovers the address that signed message per the EIP-191
// personal-message scheme. Any decoding or recovery failure returns
// ok=false; callers must not distinguish malformed from mismatched.
func recoverSigner(message, signature string) (addr string, ok bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != crypto.SignatureLength {
		return "", false
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, raw)
	// Wallets emit V as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256([]byte(prefixed))

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", false
	}
	return crypto.PubkeyToAddress(*pub).Hex(), true
}
