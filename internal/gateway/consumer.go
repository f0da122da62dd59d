// Package gateway consumes payout results reported by the payment gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
)

const consumerName = "payout-results"

type payoutSettler interface {
	MarkCompleted(ctx context.Context, id uuid.UUID, attemptKey, reference string) (*models.Payout, error)
	MarkFailed(ctx context.Context, id uuid.UUID, attemptKey, reason string) (*models.Payout, error)
}

type flagRaiser interface {
	Raise(ctx context.Context, input reconciliation.FlagInput) (*models.IntegrityFlag, error)
}

type claimGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer applies PayoutResult messages to payouts.
type Consumer struct {
	payouts payoutSettler
	claims  claimGuard
	flags   flagRaiser
	logg    *logger.Logger
}

// NewConsumer builds the payout result consumer.
func NewConsumer(payouts payoutSettler, claims claimGuard, flags flagRaiser, logg *logger.Logger) (*Consumer, error) {
	if payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	if claims == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if flags == nil {
		return nil, fmt.Errorf("flag raiser required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{payouts: payouts, claims: claims, flags: flags, logg: logg}, nil
}

// Run receives payout results until the context is canceled.
func (c *Consumer) Run(ctx context.Context, subscription *gcppubsub.Subscriber) error {
	if subscription == nil {
		return errors.New("payout result subscription required")
	}
	return subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.Process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process applies one message and reports whether it should be redelivered.
// Malformed and rejected results are acknowledged; dependency failures are
// not. A rejected success is acknowledged only once it is flagged.
func (c *Consumer) Process(ctx context.Context, msg *gcppubsub.Message) bool {
	fields := map[string]any{"message_id": msg.ID}

	eventID, result, err := decode(msg)
	if err != nil {
		fields["error"] = err.Error()
		c.logg.Warn(c.logg.WithFields(ctx, fields), "invalid payout result")
		return false
	}
	fields["event_id"] = eventID.String()
	fields["payout_id"] = result.PayoutID.String()
	fields["success"] = result.Success
	logCtx := c.logg.WithFields(ctx, fields)

	claimed, err := c.claims.Claim(logCtx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if !claimed {
		c.logg.Info(logCtx, "payout result already processed")
		return false
	}

	if result.Success {
		_, err = c.payouts.MarkCompleted(logCtx, result.PayoutID, result.IdempotencyKey, result.Reference)
	} else {
		_, err = c.payouts.MarkFailed(logCtx, result.PayoutID, result.IdempotencyKey, result.FailureReason)
	}
	if err == nil {
		c.logg.Info(logCtx, "payout result applied")
		return false
	}
	if retryable(err) {
		c.logg.Error(logCtx, "payout result failed", err)
		return c.redeliver(logCtx, eventID)
	}
	if !result.Success {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "payout result rejected")
		return false
	}

	// The gateway moved money the ledger refused to record.
	c.logg.Error(logCtx, "gateway success rejected", err)
	if _, flagErr := c.flags.Raise(logCtx, rejectedSuccess(eventID, result, err)); flagErr != nil {
		c.logg.Error(logCtx, "raise rejected result flag failed", flagErr)
		return c.redeliver(logCtx, eventID)
	}
	return false
}

func (c *Consumer) redeliver(ctx context.Context, eventID uuid.UUID) bool {
	if err := c.claims.Release(ctx, consumerName, eventID); err != nil {
		c.logg.Error(ctx, "release claim failed", err)
	}
	return true
}

func rejectedSuccess(eventID uuid.UUID, result payloads.PayoutResultEvent, err error) reconciliation.FlagInput {
	details := map[string]any{
		"event_id":    eventID.String(),
		"attempt_key": result.IdempotencyKey,
		"reference":   result.Reference,
		"error":       err.Error(),
	}
	if typed := pkgerrors.As(err); typed != nil {
		details["code"] = string(typed.Code())
		if reason := typed.Reason(); reason != "" {
			details["reason"] = string(reason)
		}
	}
	return reconciliation.FlagInput{
		EntityType: enums.IntegrityEntityPayout,
		EntityID:   result.PayoutID,
		Kind:       enums.IntegrityGatewayResultRejected,
		Details:    details,
	}
}

func retryable(err error) bool {
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return true
	}
	return false
}

// decode accepts the outbox envelope or a bare PayoutResult body. Bare
// bodies are keyed by the event_id attribute, falling back to a stable id
// derived from the message id.
func decode(msg *gcppubsub.Message) (uuid.UUID, payloads.PayoutResultEvent, error) {
	var result payloads.PayoutResultEvent
	body := msg.Data
	rawID := strings.TrimSpace(msg.Attributes["event_id"])

	if envelope, err := outbox.DecodeEnvelope(msg.Data); err == nil && len(envelope.Data) > 0 {
		body = envelope.Data
		if strings.TrimSpace(envelope.EventID) != "" {
			rawID = strings.TrimSpace(envelope.EventID)
		}
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return uuid.Nil, result, fmt.Errorf("decode payout result: %w", err)
	}
	if result.PayoutID == uuid.Nil {
		return uuid.Nil, result, errors.New("payout_id missing")
	}
	if !result.Success && strings.TrimSpace(result.FailureReason) == "" {
		result.FailureReason = "gateway reported failure"
	}

	if rawID == "" {
		rawID = msg.ID
	}
	if rawID == "" {
		return uuid.Nil, result, errors.New("event id missing")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		eventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(rawID))
	}
	return eventID, result, nil
}
