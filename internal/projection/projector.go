package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/registry"
)

const payloadVersion = 1

// Writer delivers settlement rows to the read model.
type Writer interface {
	InsertSettlement(ctx context.Context, row SettlementEventRow) error
}

type rowBuilder func(envelope Envelope, payload any) (SettlementEventRow, error)

// Projector turns settlement events into BigQuery rows. Events it has no
// builder for are skipped.
type Projector struct {
	decoders *registry.DecoderRegistry
	builders map[enums.OutboxEventType]rowBuilder
	writer   Writer
	source   string
	logg     *logger.Logger
	now      func() time.Time
}

// NewProjector wires the decoders and row builders for projected events.
func NewProjector(writer Writer, source string, logg *logger.Logger) (*Projector, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(source) == "" {
		source = "settlement-ledger"
	}

	decoders := registry.NewDecoderRegistry()
	registry.Register[payloads.OrderStatusChangedEvent](decoders, enums.EventOrderStatusChanged, payloadVersion)
	registry.Register[payloads.CommissionComputedEvent](decoders, enums.EventCommissionComputed, payloadVersion)
	registry.Register[payloads.RefundIssuedEvent](decoders, enums.EventRefundIssued, payloadVersion)
	registry.Register[payloads.PayoutSettledEvent](decoders, enums.EventPayoutCompleted, payloadVersion)
	registry.Register[payloads.PayoutSettledEvent](decoders, enums.EventPayoutFailed, payloadVersion)

	return &Projector{
		decoders: decoders,
		builders: map[enums.OutboxEventType]rowBuilder{
			enums.EventOrderStatusChanged: orderStatusRow,
			enums.EventCommissionComputed: commissionRow,
			enums.EventRefundIssued:       refundRow,
			enums.EventPayoutCompleted:    payoutRow,
			enums.EventPayoutFailed:       payoutRow,
		},
		writer: writer,
		source: source,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Handle projects one envelope.
func (p *Projector) Handle(ctx context.Context, envelope Envelope) error {
	build, ok := p.builders[envelope.EventType]
	if !ok {
		p.logg.Debug(ctx, "settlement event not projected")
		return nil
	}
	version := envelope.Version
	if version == 0 {
		version = payloadVersion
	}
	payload, err := p.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row, err := build(envelope, payload)
	if err != nil {
		return err
	}
	row.EventID = envelope.EventID
	row.EventType = string(envelope.EventType)
	row.AggregateType = string(envelope.AggregateType)
	row.AggregateID = envelope.AggregateID
	row.OccurredAt = envelope.OccurredAt.UTC()
	row.Source = p.source
	row.IngestedAt = p.now().UTC()
	row.Payload = payloadJSON(envelope.Payload)
	return p.writer.InsertSettlement(ctx, row)
}

func orderStatusRow(_ Envelope, payload any) (SettlementEventRow, error) {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return SettlementEventRow{}, fmt.Errorf("unexpected payload %T", payload)
	}
	return SettlementEventRow{
		OrderID:  ptr(event.OrderID.String()),
		Status:   ptr(string(event.To)),
		Amount:   ptr(event.TotalAmount),
		Currency: ptr(event.Currency),
	}, nil
}

func commissionRow(_ Envelope, payload any) (SettlementEventRow, error) {
	event, ok := payload.(*payloads.CommissionComputedEvent)
	if !ok {
		return SettlementEventRow{}, fmt.Errorf("unexpected payload %T", payload)
	}
	return SettlementEventRow{
		OrderID:   ptr(event.OrderID.String()),
		ShopID:    ptr(event.ShopID.String()),
		Status:    ptr(string(enums.CommissionStatusPending)),
		Amount:    ptr(event.CommissionAmount),
		NetAmount: ptr(event.NetAmount),
		Currency:  ptr(event.Currency),
	}, nil
}

func refundRow(_ Envelope, payload any) (SettlementEventRow, error) {
	event, ok := payload.(*payloads.RefundIssuedEvent)
	if !ok {
		return SettlementEventRow{}, fmt.Errorf("unexpected payload %T", payload)
	}
	return SettlementEventRow{
		OrderID:  ptr(event.OrderID.String()),
		Amount:   ptr(event.Amount),
		Currency: ptr(event.Currency),
	}, nil
}

func payoutRow(_ Envelope, payload any) (SettlementEventRow, error) {
	event, ok := payload.(*payloads.PayoutSettledEvent)
	if !ok {
		return SettlementEventRow{}, fmt.Errorf("unexpected payload %T", payload)
	}
	return SettlementEventRow{
		ShopID:    ptr(event.ShopID.String()),
		PayoutID:  ptr(event.PayoutID.String()),
		Status:    ptr(string(event.Status)),
		Amount:    ptr(event.Amount),
		NetAmount: ptr(event.Amount),
		Currency:  ptr(event.Currency),
	}, nil
}

func ptr[T any](value T) *T {
	return &value
}
