package services

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consentgrid/backend/internal/ledger"
	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// TransactionStore is the cache the reconciler merges oracle facts into.
// GetByHash returns (nil, nil) on a miss; Upsert must refuse to rewrite
// terminal rows and return the row as stored.
type TransactionStore interface {
	GetByHash(ctx context.Context, txHash string) (*models.TransactionRecord, error)
	Upsert(ctx context.Context, rec *models.TransactionRecord) (*models.TransactionRecord, error)
}

// TransactionService reconciles locally cached transaction status with the
// external ledger. Terminal records short-circuit without an oracle call;
// everything else is refreshed on every monitor request.
type TransactionService struct {
	store  TransactionStore
	oracle ledger.ReceiptOracle
	logger zerolog.Logger
}

// NewTransactionService creates a new transaction reconciler
func NewTransactionService(store TransactionStore, oracle ledger.ReceiptOracle, logger zerolog.Logger) *TransactionService {
	return &TransactionService{store: store, oracle: oracle, logger: logger}
}

// MonitorRequest identifies the transaction to reconcile, with optional
// correlation fields recorded on first sight.
type MonitorRequest struct {
	TxHash      string     `json:"tx_hash" binding:"required"`
	ChainID     string     `json:"chain_id" binding:"required"`
	ConsentID   *uuid.UUID `json:"consent_id,omitempty"`
	FromAddress *string    `json:"from_address,omitempty"`
	ToAddress   *string    `json:"to_address,omitempty"`
}

// MonitorResult is the reconciled record plus an oracle diagnostic when
// the external ledger could not be reached.
type MonitorResult struct {
	*models.TransactionRecord
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Monitor returns the settled view of a transaction. Cache hits in a
// terminal state are returned verbatim; pending or unknown hashes trigger
// an oracle query whose outcome is merged into the cache. An unreachable
// oracle degrades to a pending result with a diagnostic, never an error:
// an RPC hiccup must not be mistaken for settlement.
func (s *TransactionService) Monitor(ctx context.Context, req MonitorRequest) (*MonitorResult, error) {
	details := map[string]string{}
	if !txHashRegex.MatchString(req.TxHash) {
		details["tx_hash"] = "must be a 0x-prefixed 64-hex-digit hash"
	}
	if req.ChainID == "" {
		details["chain_id"] = "is required"
	}
	if len(details) > 0 {
		return nil, apperrors.Validation(details)
	}

	cached, err := s.store.GetByHash(ctx, req.TxHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to read transaction cache", err)
	}
	if cached != nil && cached.Terminal() {
		return &MonitorResult{TransactionRecord: cached}, nil
	}

	rec := &models.TransactionRecord{
		TxHash:      req.TxHash,
		ChainID:     req.ChainID,
		ConsentID:   req.ConsentID,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Status:      models.TxPending,
	}
	if cached != nil {
		rec = cached
	}

	var diagnostic string
	receipt, err := s.oracle.ReceiptByHash(ctx, req.ChainID, req.TxHash)
	switch {
	case err != nil:
		// Oracle unreachable: report pending, never a hard failure.
		diagnostic = "ledger oracle unavailable: " + err.Error()
		s.logger.Warn().Err(err).
			Str("tx_hash", req.TxHash).
			Str("chain_id", req.ChainID).
			Msg("receipt query failed, reporting pending")
	case receipt == nil:
		// Not mined yet.
		rec.Status = models.TxPending
	case receipt.Success:
		rec.Status = models.TxConfirmed
		blockNumber := receipt.BlockNumber
		rec.BlockNumber = &blockNumber
	default:
		rec.Status = models.TxFailed
		blockNumber := receipt.BlockNumber
		rec.BlockNumber = &blockNumber
	}

	stored, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to persist transaction status", err)
	}
	return &MonitorResult{TransactionRecord: stored, Diagnostic: diagnostic}, nil
}
