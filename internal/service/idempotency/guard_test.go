package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	ctx := context.Background()
	hash := HashRequest("POST /api/orders", "u1", []byte(`{"lines":[]}`))

	first, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.False(t, first.Replay)

	_, err = guard.Begin(ctx, "key-1", hash)
	require.ErrorIs(t, err, ErrRequestInFlight)

	guard.Complete(ctx, "key-1", http.StatusCreated, []byte(`{"id":"o1"}`))

	again, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.True(t, again.Replay)
	require.Equal(t, http.StatusCreated, again.Record.HTTPStatus)
	require.JSONEq(t, `{"id":"o1"}`, string(again.Record.ResponseBody))
}

func TestGuard_RejectsDifferentBodyForSameKey(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	ctx := context.Background()

	_, err := guard.Begin(ctx, "key-2", HashRequest("POST /api/orders", "u1", []byte(`{"a":1}`)))
	require.NoError(t, err)

	_, err = guard.Begin(ctx, "key-2", HashRequest("POST /api/orders", "u1", []byte(`{"a":2}`)))
	require.True(t, errors.Is(err, domain.ErrIdempotencyHashMismatch))
}

func TestGuard_ServerErrorIsStoredAsFailed(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)
	ctx := context.Background()
	hash := HashRequest("POST /api/checkout", "u1", nil)

	_, err := guard.Begin(ctx, "key-3", hash)
	require.NoError(t, err)
	guard.Complete(ctx, "key-3", http.StatusInternalServerError, []byte(`{"error":"boom"}`))

	record, err := repo.Get(ctx, "key-3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)
}

func TestHashRequest_ScopesByUser(t *testing.T) {
	t.Parallel()

	body := []byte(`{"x":1}`)
	require.NotEqual(t, HashRequest("POST /a", "u1", body), HashRequest("POST /a", "u2", body))
	require.Equal(t, HashRequest("POST /a", "u1", body), HashRequest("POST /a", "u1", body))
}
