package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consentgrid/backend/internal/ledger"
	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// memHandleStore enforces the same uniqueness invariants as the database
// constraints, atomically, so concurrency tests exercise the real race
// contract.
type memHandleStore struct {
	mu      sync.Mutex
	byName  map[string]*models.Handle
	err     error
	getErrs map[string]error
}

func newMemHandleStore() *memHandleStore {
	return &memHandleStore{byName: map[string]*models.Handle{}}
}

func (s *memHandleStore) Insert(_ context.Context, h *models.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.byName[h.Handle]; ok {
		return apperrors.ErrHandleTaken
	}
	for _, existing := range s.byName {
		if strings.EqualFold(existing.WalletAddress, h.WalletAddress) {
			return apperrors.ErrWalletBound
		}
	}
	now := time.Now()
	h.CreatedAt, h.UpdatedAt = now, now
	copied := *h
	s.byName[h.Handle] = &copied
	return nil
}

func (s *memHandleStore) GetByHandle(_ context.Context, handle string) (*models.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.getErrs[handle]; ok {
		return nil, err
	}
	h, ok := s.byName[handle]
	if !ok {
		return nil, apperrors.ErrHandleNotFound
	}
	copied := *h
	return &copied, nil
}

func (s *memHandleStore) HandleExists(_ context.Context, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.byName[handle]
	return ok, nil
}

func (s *memHandleStore) WalletExists(_ context.Context, walletAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, h := range s.byName {
		if strings.EqualFold(h.WalletAddress, walletAddress) {
			return true, nil
		}
	}
	return false, nil
}

// memConsentStore implements the conditional status update the same way
// the SQL store does: the transition only succeeds while status is pending.
type memConsentStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.ConsentRequest
}

func newMemConsentStore() *memConsentStore {
	return &memConsentStore{byID: map[uuid.UUID]*models.ConsentRequest{}}
}

func (s *memConsentStore) Insert(_ context.Context, r *models.ConsentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	copied := *r
	s.byID[r.ID] = &copied
	return nil
}

func (s *memConsentStore) GetByID(_ context.Context, id uuid.UUID) (*models.ConsentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, apperrors.ErrRequestNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *memConsentStore) ListPendingFor(_ context.Context, handle string) ([]models.ConsentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ConsentRequest{}
	for _, r := range s.byID {
		if r.ToHandle == handle && r.Status == models.RequestPending {
			out = append(out, *r)
		}
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *memConsentStore) UpdateStatusIfPending(_ context.Context, id uuid.UUID, status string, proof json.RawMessage) (*models.ConsentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, apperrors.ErrRequestNotFound
	}
	if r.Status != models.RequestPending {
		return nil, apperrors.ErrRequestProcessed
	}
	r.Status = status
	if proof != nil {
		r.AcceptorProof = proof
	}
	r.UpdatedAt = time.Now()
	copied := *r
	return &copied, nil
}

// memTxStore mirrors the SQL upsert: terminal rows are never rewritten.
type memTxStore struct {
	mu     sync.Mutex
	byHash map[string]*models.TransactionRecord
}

func newMemTxStore() *memTxStore {
	return &memTxStore{byHash: map[string]*models.TransactionRecord{}}
}

func (s *memTxStore) GetByHash(_ context.Context, txHash string) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byHash[txHash]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (s *memTxStore) Upsert(_ context.Context, rec *models.TransactionRecord) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byHash[rec.TxHash]
	if ok && existing.Terminal() {
		copied := *existing
		return &copied, nil
	}
	now := time.Now()
	copied := *rec
	if ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.byHash[rec.TxHash] = &copied
	result := copied
	return &result, nil
}

// recordingNotifier captures dispatched lifecycle events.
type recordingNotifier struct {
	mu        sync.Mutex
	requested []uuid.UUID
	responded []uuid.UUID
}

func (n *recordingNotifier) ConsentRequested(req *models.ConsentRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, req.ID)
}

func (n *recordingNotifier) ConsentResponded(req *models.ConsentRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responded = append(n.responded, req.ID)
}

// fakeOracle scripts receipt answers and counts queries.
type fakeOracle struct {
	mu       sync.Mutex
	receipts map[string]*ledger.Receipt
	err      error
	calls    int
}

func (o *fakeOracle) ReceiptByHash(_ context.Context, _, txHash string) (*ledger.Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	return o.receipts[txHash], nil
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
