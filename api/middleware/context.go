package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

type actorKey struct{}

type actor struct {
	id   uuid.UUID
	role enums.ActorRole
}

func actorFrom(ctx context.Context) actor {
	if ctx == nil {
		return actor{}
	}
	a, _ := ctx.Value(actorKey{}).(actor)
	return a
}

// ActorIDFromContext returns the authenticated actor or uuid.Nil.
func ActorIDFromContext(ctx context.Context) uuid.UUID {
	return actorFrom(ctx).id
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	return actorFrom(ctx).role
}

// WithActor stores the verified token identity for handlers and the
// idempotency scope.
func WithActor(ctx context.Context, actorID uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor{id: actorID, role: role})
}
