package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/consentgrid/backend/internal/models"
)

// TransactionStore caches external ledger outcomes keyed by tx hash.
type TransactionStore struct {
	db *DB
}

// NewTransactionStore creates a new transaction store
func NewTransactionStore(db *DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// GetByHash returns the cached record, or (nil, nil) on a cache miss.
func (s *TransactionStore) GetByHash(ctx context.Context, txHash string) (*models.TransactionRecord, error) {
	r, err := scanTransaction(s.db.Pool.QueryRow(ctx,
		selectTransaction+" WHERE tx_hash = $1", txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return r, nil
}

// Upsert inserts the record or refreshes an existing row, but only while
// the stored status is still pending: terminal rows are immutable. The
// persisted row is returned, so a racing caller that lost to a terminal
// writer still observes the winning state.
func (s *TransactionStore) Upsert(ctx context.Context, rec *models.TransactionRecord) (*models.TransactionRecord, error) {
	r, err := scanTransaction(s.db.Pool.QueryRow(ctx,
		`INSERT INTO transactions (tx_hash, chain_id, consent_id, from_address, to_address, status, block_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tx_hash) DO UPDATE
		 SET status = EXCLUDED.status, block_number = EXCLUDED.block_number, updated_at = now()
		 WHERE transactions.status = $8
		 RETURNING tx_hash, chain_id, consent_id, from_address, to_address, status, block_number, created_at, updated_at`,
		rec.TxHash, rec.ChainID, rec.ConsentID, rec.FromAddress, rec.ToAddress,
		rec.Status, rec.BlockNumber, models.TxPending))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}

	// The guarded update matched a terminal row; return it as stored.
	existing, err := s.GetByHash(ctx, rec.TxHash)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("transaction %s vanished during upsert", rec.TxHash)
	}
	return existing, nil
}

const selectTransaction = `SELECT tx_hash, chain_id, consent_id, from_address, to_address, status, block_number, created_at, updated_at
 FROM transactions`

func scanTransaction(row pgx.Row) (*models.TransactionRecord, error) {
	var r models.TransactionRecord
	err := row.Scan(&r.TxHash, &r.ChainID, &r.ConsentID, &r.FromAddress, &r.ToAddress,
		&r.Status, &r.BlockNumber, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
