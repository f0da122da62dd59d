package registry

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
)

// PayloadVersion is the envelope version every current payload is written at.
const PayloadVersion = 1

// EventDescriptor routes an event type to its topic.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation, with its typed
// payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry knows the topic, aggregate and payload type of every event
// the ledger publishes.
type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

// NonRetryableError marks a row that will never publish as stored. The relay
// parks it in the DLQ instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// route registers eventType on topic and its payload decoder.
func route[T any](r *EventRegistry, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) {
	r.entries[eventType] = EventDescriptor{EventType: eventType, AggregateType: aggregate, Topic: topic}
	Register[T](r.decoders, eventType, PayloadVersion)
}

// NewEventRegistry routes settlement events to the settlement topic, payout
// instructions to the gateway topic and integrity alerts to the operator
// topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []string
	for name, topic := range map[string]string{
		"settlement":     cfg.SettlementTopic,
		"payout request": cfg.PayoutRequestTopic,
		"alert":          cfg.AlertTopic,
	} {
		if topic == "" {
			missing = append(missing, name+" topic is required")
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("event registry: %v", missing)
	}

	r := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}, decoders: NewDecoderRegistry()}
	settlement := cfg.SettlementTopic
	route[payloads.OrderStatusChangedEvent](r, enums.EventOrderStatusChanged, enums.AggregateOrder, settlement)
	route[payloads.RefundIssuedEvent](r, enums.EventRefundIssued, enums.AggregateOrder, settlement)
	route[payloads.CommissionComputedEvent](r, enums.EventCommissionComputed, enums.AggregateCommission, settlement)
	route[payloads.CommissionClearedEvent](r, enums.EventCommissionCleared, enums.AggregateCommission, settlement)
	route[payloads.PayoutCreatedEvent](r, enums.EventPayoutCreated, enums.AggregatePayout, settlement)
	route[payloads.PayoutSettledEvent](r, enums.EventPayoutCompleted, enums.AggregatePayout, settlement)
	route[payloads.PayoutSettledEvent](r, enums.EventPayoutFailed, enums.AggregatePayout, settlement)
	route[payloads.WalletEntryAppliedEvent](r, enums.EventWalletEntryApplied, enums.AggregateWallet, settlement)
	route[payloads.InvoiceStatusEvent](r, enums.EventInvoiceStatus, enums.AggregateInvoice, settlement)
	route[payloads.PayoutRequestEvent](r, enums.EventPayoutRequested, enums.AggregatePayout, cfg.PayoutRequestTopic)
	route[payloads.IntegrityViolationEvent](r, enums.EventIntegrityViolation, enums.AggregateIntegrityFlag, cfg.AlertTopic)
	return r, nil
}

// Topics lists every distinct topic the registry routes to, sorted.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		topics = append(topics, desc.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve validates row against its route and decodes the payload. Every
// failure is non-retryable: the row is wrong, not the broker.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", row.EventType)
	case desc.AggregateType != row.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if row.ID != uuid.Nil && envelope.EventID != row.ID.String() {
		return nil, nonRetryable("envelope event id %q does not match row %s", envelope.EventID, row.ID)
	}
	version := envelope.Version
	if version == 0 {
		version = PayloadVersion
	}
	payload, err := r.decoders.Decode(row.EventType, version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
