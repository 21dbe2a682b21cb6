package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

func newConsentFixture(t *testing.T) (*ConsentService, *memConsentStore, *recordingNotifier) {
	t.Helper()
	handles := newMemHandleStore()
	for _, h := range []struct{ handle, wallet string }{
		{"alice", testWalletA},
		{"bob", testWalletB},
	} {
		require.NoError(t, handles.Insert(context.Background(), &models.Handle{
			Handle:          h.handle,
			WalletAddress:   h.wallet,
			DevicePublicKey: "device-key",
		}))
	}

	store := newMemConsentStore()
	notifier := &recordingNotifier{}
	svc := NewConsentService(store, handles, notifier, zerolog.Nop())
	return svc, store, notifier
}

func validCreate() CreateRequest {
	return CreateRequest{
		FromHandle:  "bob",
		FromAddress: testWalletB,
		ToHandle:    "alice",
		Template:    "t1",
		ConsentData: json.RawMessage(`{"purpose":"photo"}`),
	}
}

func TestConsentService_Create(t *testing.T) {
	svc, store, notifier := newConsentFixture(t)

	r, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, r.Status)
	assert.NotEqual(t, uuid.Nil, r.ID)

	stored, err := store.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.FromHandle)
	assert.Equal(t, "alice", stored.ToHandle)

	assert.Equal(t, []uuid.UUID{r.ID}, notifier.requested)
}

func TestConsentService_Create_UnknownHandles(t *testing.T) {
	svc, _, notifier := newConsentFixture(t)

	t.Run("unregistered sender", func(t *testing.T) {
		req := validCreate()
		req.FromHandle = "mallory"
		_, err := svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrFromHandleUnknown)
	})

	t.Run("unregistered recipient", func(t *testing.T) {
		req := validCreate()
		req.ToHandle = "nobody"
		_, err := svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrToHandleUnknown)
	})

	assert.Empty(t, notifier.requested, "no notification for failed creations")
}

func TestConsentService_Create_Validation(t *testing.T) {
	svc, _, _ := newConsentFixture(t)

	req := validCreate()
	req.Template = " "
	req.FromAddress = "nope"
	_, err := svc.Create(context.Background(), req)

	var ae *apperrors.AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperrors.CodeInvalidArgument, ae.Code)
	assert.Contains(t, ae.Details, "template")
	assert.Contains(t, ae.Details, "from_address")
}

func TestConsentService_ListPending(t *testing.T) {
	svc, _, _ := newConsentFixture(t)

	first, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	second := validCreate()
	second.Template = "t2"
	newer, err := svc.Create(context.Background(), second)
	require.NoError(t, err)

	pending, err := svc.ListPending(context.Background(), "Alice")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, newer.ID, pending[0].ID, "newest first")
	assert.Equal(t, first.ID, pending[1].ID)

	t.Run("accepted requests drop out", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), newer.ID.String(), AcceptorProof{})
		require.NoError(t, err)

		pending, err := svc.ListPending(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, first.ID, pending[0].ID)
	})

	t.Run("empty handle is a validation error", func(t *testing.T) {
		_, err := svc.ListPending(context.Background(), "  ")
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})
}

func TestConsentService_Accept(t *testing.T) {
	svc, store, notifier := newConsentFixture(t)
	r, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	proof := AcceptorProof{
		BiometricHash: "b-hash",
		DeviceHash:    "d-hash",
		Duress:        false,
	}
	accepted, err := svc.Accept(context.Background(), r.ID.String(), proof)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, accepted.Status)

	stored, err := store.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	var storedProof AcceptorProof
	require.NoError(t, json.Unmarshal(stored.AcceptorProof, &storedProof))
	assert.Equal(t, proof, storedProof)

	assert.Equal(t, []uuid.UUID{r.ID}, notifier.responded)

	t.Run("second accept is invalid state", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), r.ID.String(), proof)
		assert.ErrorIs(t, err, apperrors.ErrRequestProcessed)
	})

	t.Run("reject after accept is invalid state", func(t *testing.T) {
		_, err := svc.Reject(context.Background(), r.ID.String())
		assert.ErrorIs(t, err, apperrors.ErrRequestProcessed)

		stored, err := store.GetByID(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestAccepted, stored.Status, "outcome must not be overwritten")
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), uuid.NewString(), proof)
		assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), "not-a-uuid", proof)
		assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)
	})
}

func TestConsentService_Accept_Concurrent(t *testing.T) {
	svc, _, notifier := newConsentFixture(t)
	r, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Accept(context.Background(), r.ID.String(), AcceptorProof{})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrRequestProcessed)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent accept must win")
	assert.Len(t, notifier.responded, 1, "only the winner notifies")
}

func TestConsentService_Reject(t *testing.T) {
	svc, _, _ := newConsentFixture(t)
	r, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), r.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, rejected.Status)

	t.Run("second reject is invalid state", func(t *testing.T) {
		_, err := svc.Reject(context.Background(), r.ID.String())
		assert.ErrorIs(t, err, apperrors.ErrRequestProcessed)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.Reject(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)
	})
}
