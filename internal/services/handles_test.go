package services

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/consentgrid/backend/pkg/errors"
)

const (
	testWalletA = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	testWalletB = "0xBBbBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbBB"
)

func validClaim() ClaimRequest {
	return ClaimRequest{
		Handle:          "alice",
		WalletAddress:   testWalletA,
		DevicePublicKey: "device-pub-key",
		Signature:       "0xsig",
	}
}

func TestHandleService_Claim_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ClaimRequest)
		field  string
	}{
		{
			name:   "handle too short",
			mutate: func(r *ClaimRequest) { r.Handle = "ab" },
			field:  "handle",
		},
		{
			name:   "handle with illegal characters",
			mutate: func(r *ClaimRequest) { r.Handle = "al!ce" },
			field:  "handle",
		},
		{
			name:   "address without 0x prefix",
			mutate: func(r *ClaimRequest) { r.WalletAddress = "aAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa" },
			field:  "wallet_address",
		},
		{
			name:   "address wrong length",
			mutate: func(r *ClaimRequest) { r.WalletAddress = "0xabc" },
			field:  "wallet_address",
		},
		{
			name:   "empty device key",
			mutate: func(r *ClaimRequest) { r.DevicePublicKey = "  " },
			field:  "device_public_key",
		},
		{
			name:   "empty signature",
			mutate: func(r *ClaimRequest) { r.Signature = "" },
			field:  "signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHandleService(newMemHandleStore(), zerolog.Nop())
			req := validClaim()
			tt.mutate(&req)

			_, err := svc.Claim(context.Background(), req)
			require.Error(t, err)

			var ae *apperrors.AppError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, apperrors.CodeInvalidArgument, ae.Code)
			assert.Contains(t, ae.Details, tt.field)
		})
	}
}

func TestHandleService_ClaimAndResolve(t *testing.T) {
	store := newMemHandleStore()
	svc := NewHandleService(store, zerolog.Nop())

	req := validClaim()
	req.Handle = "Alice" // mixed case canonicalizes
	claimed, err := svc.Claim(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "alice", claimed.Handle)

	resolved, err := svc.Resolve(context.Background(), "ALICE")
	require.NoError(t, err)
	assert.Equal(t, claimed.WalletAddress, resolved.WalletAddress)
	assert.Equal(t, "device-pub-key", resolved.DevicePublicKey)
}

func TestHandleService_Claim_Conflicts(t *testing.T) {
	store := newMemHandleStore()
	svc := NewHandleService(store, zerolog.Nop())

	_, err := svc.Claim(context.Background(), validClaim())
	require.NoError(t, err)

	t.Run("same handle, different wallet", func(t *testing.T) {
		req := validClaim()
		req.WalletAddress = testWalletB
		_, err := svc.Claim(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrHandleTaken)
	})

	t.Run("different handle, same wallet", func(t *testing.T) {
		req := validClaim()
		req.Handle = "alice2"
		_, err := svc.Claim(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrWalletBound)
	})

	t.Run("same wallet with different case", func(t *testing.T) {
		req := validClaim()
		req.Handle = "alice3"
		req.WalletAddress = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
		_, err := svc.Claim(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrWalletBound)
	})
}

func TestHandleService_Claim_Concurrent(t *testing.T) {
	store := newMemHandleStore()
	svc := NewHandleService(store, zerolog.Nop())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(context.Background(), validClaim())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrHandleTaken)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent claim must win")
}

func TestHandleService_Resolve_NotFound(t *testing.T) {
	svc := NewHandleService(newMemHandleStore(), zerolog.Nop())
	_, err := svc.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrHandleNotFound)
}
