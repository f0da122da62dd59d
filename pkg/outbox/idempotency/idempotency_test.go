package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.failSet != nil {
		return false, m.failSet
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "ledger:idempotency:" + scope + ":" + id
}

func TestClaimIsOncePerConsumer(t *testing.T) {
	t.Setenv("LEDGER_WORKER_ID", "worker-a")
	ctx := context.Background()
	store := newMemoryStore()
	guard, err := NewGuard(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	claimed, err := guard.Claim(ctx, "payout-results", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)

	key := "ledger:idempotency:consumer:payout-results:" + eventID.String()
	assert.Equal(t, "worker-a", store.values[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	claimed, err = guard.Claim(ctx, "payout-results", eventID)
	require.NoError(t, err)
	assert.False(t, claimed)

	// a different consumer tracks its own claims
	claimed, err = guard.Claim(ctx, "ledger-projection", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleaseOnlyDropsOwnClaim(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	eventID := uuid.New()
	key := "ledger:idempotency:consumer:payout-results:" + eventID.String()

	t.Setenv("LEDGER_WORKER_ID", "worker-a")
	mine, err := NewGuard(store, time.Hour)
	require.NoError(t, err)
	t.Setenv("LEDGER_WORKER_ID", "worker-b")
	theirs, err := NewGuard(store, time.Hour)
	require.NoError(t, err)

	claimed, err := mine.Claim(ctx, "payout-results", eventID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, theirs.Release(ctx, "payout-results", eventID))
	assert.Contains(t, store.values, key)

	require.NoError(t, mine.Release(ctx, "payout-results", eventID))
	assert.NotContains(t, store.values, key)

	claimed, err = theirs.Claim(ctx, "payout-results", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)

	_, err = guard.Claim(context.Background(), "", uuid.New())
	assert.Error(t, err)
	_, err = guard.Claim(context.Background(), "payout-results", uuid.Nil)
	assert.Error(t, err)

	store.failSet = errors.New("connection refused")
	_, err = guard.Claim(context.Background(), "payout-results", uuid.New())
	assert.Error(t, err)

	_, err = NewGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(store, 0)
	assert.Error(t, err)
}
