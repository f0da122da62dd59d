package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateCommission    OutboxAggregateType = "commission"
	AggregatePayout        OutboxAggregateType = "payout"
	AggregateWallet        OutboxAggregateType = "wallet"
	AggregateIntegrityFlag OutboxAggregateType = "integrity_flag"
	AggregateInvoice       OutboxAggregateType = "invoice"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCommission,
	AggregatePayout,
	AggregateWallet,
	AggregateIntegrityFlag,
	AggregateInvoice,
}

// IsValid reports whether the value matches a known aggregate.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key of an outbox event.
type OutboxEventType string

const (
	EventOrderStatusChanged OutboxEventType = "order.status_changed"
	EventCommissionComputed OutboxEventType = "commission.computed"
	EventCommissionCleared  OutboxEventType = "commission.cleared"
	EventRefundIssued       OutboxEventType = "refund.issued"
	EventPayoutCreated      OutboxEventType = "payout.created"
	EventPayoutRequested    OutboxEventType = "payout.requested"
	EventPayoutCompleted    OutboxEventType = "payout.completed"
	EventPayoutFailed       OutboxEventType = "payout.failed"
	EventWalletEntryApplied OutboxEventType = "wallet.entry_applied"
	EventIntegrityViolation OutboxEventType = "integrity.violation"
	EventInvoiceStatus      OutboxEventType = "invoice.status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderStatusChanged,
	EventCommissionComputed,
	EventCommissionCleared,
	EventRefundIssued,
	EventPayoutCreated,
	EventPayoutRequested,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventWalletEntryApplied,
	EventIntegrityViolation,
	EventInvoiceStatus,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason says why the publisher stopped retrying an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: publish kept failing until attempts ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the row can never be published as stored,
	// e.g. an unknown event type or an undecodable payload.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
