// Package idempotency records which outbox events a consumer has already
// handled so Pub/Sub redeliveries are applied once.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/instance"
)

// Store is the Redis subset a Guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// Guard claims event ids per consumer under
// ledger:idempotency:consumer:<name>:<event id>. Claims hold the claiming
// instance id and expire after ttl.
type Guard struct {
	store Store
	ttl   time.Duration
	owner string
}

func NewGuard(store Store, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("claim ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl, owner: instance.GetID()}, nil
}

// Claim reports true when this call took the event and the caller should
// apply it, false when another delivery already did.
func (g *Guard) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, g.owner, g.ttl)
}

// Release drops a claim this instance holds so the event is applied again on
// redelivery. Claims taken by other instances are left in place.
func (g *Guard) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	_, err = g.store.CompareAndDelete(ctx, key, g.owner)
	return err
}

func (g *Guard) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("consumer:"+consumer, eventID.String()), nil
}
