package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/square"
)

const (
	defaultPaymentSyncDelay = 2 * time.Minute
	paymentSyncBatch        = 100
)

type paymentLedger interface {
	PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage) (*models.Transaction, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
}

type paymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (*square.Payment, error)
}

type flagRaiser interface {
	Raise(ctx context.Context, input reconciliation.FlagInput) (*models.IntegrityFlag, error)
}

// PaymentSyncJobParams configure the Square payment status poller.
type PaymentSyncJobParams struct {
	Logger  *logger.Logger
	Ledger  paymentLedger
	Gateway paymentGateway
	Flags   flagRaiser
	// Delay skips payments recorded more recently than this.
	Delay time.Duration
}

// NewPaymentSyncJob settles pending payment transactions from their Square
// payment status.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("square client required")
	}
	if params.Flags == nil {
		return nil, fmt.Errorf("integrity flag raiser required")
	}
	delay := params.Delay
	if delay <= 0 {
		delay = defaultPaymentSyncDelay
	}
	return &paymentSyncJob{
		logg:    params.Logger,
		ledger:  params.Ledger,
		gateway: params.Gateway,
		flags:   params.Flags,
		delay:   delay,
		now:     time.Now,
	}, nil
}

type paymentSyncJob struct {
	logg    *logger.Logger
	ledger  paymentLedger
	gateway paymentGateway
	flags   flagRaiser
	delay   time.Duration
	now     func() time.Time
}

type syncCounts struct {
	completed, failed, waiting, mismatched int
}

func (j *paymentSyncJob) Name() string { return "payment-sync" }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	pending, err := j.ledger.PendingPayments(ctx, j.now().UTC().Add(-j.delay), paymentSyncBatch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}
	var (
		counts syncCounts
		errs   []error
	)
	for i := range pending {
		if err := j.syncOne(ctx, &pending[i], &counts); err != nil {
			errs = append(errs, fmt.Errorf("sync transaction %s: %w", pending[i].ID, err))
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":    len(pending),
		"completed":  counts.completed,
		"failed":     counts.failed,
		"waiting":    counts.waiting,
		"mismatched": counts.mismatched,
		"errors":     len(errs),
	})
	j.logg.Info(logCtx, "payment sync complete")
	return multierr.Combine(errs...)
}

func (j *paymentSyncJob) syncOne(ctx context.Context, txn *models.Transaction, counts *syncCounts) error {
	if txn.GatewayRef == nil || strings.TrimSpace(*txn.GatewayRef) == "" {
		return errors.New("gateway reference missing")
	}
	payment, err := j.gateway.GetPayment(ctx, *txn.GatewayRef)
	if err != nil {
		return err
	}

	switch payment.Status {
	case square.PaymentCompleted:
		if _, err := j.ledger.MarkCompleted(ctx, txn.ID, payment.Raw); err != nil {
			return err
		}
		counts.completed++
		if diverges(txn, payment) {
			counts.mismatched++
			return j.flagMismatch(ctx, txn, payment)
		}
		return nil
	case square.PaymentFailed, square.PaymentCanceled:
		if _, err := j.ledger.MarkFailed(ctx, txn.ID, "square payment "+strings.ToLower(string(payment.Status))); err != nil {
			return err
		}
		counts.failed++
		return nil
	default:
		counts.waiting++
		return nil
	}
}

func diverges(txn *models.Transaction, payment *square.Payment) bool {
	if money.NormalizeCurrency(payment.Currency) != money.NormalizeCurrency(txn.Currency) {
		return true
	}
	return !payment.Amount.Equal(txn.Amount)
}

func (j *paymentSyncJob) flagMismatch(ctx context.Context, txn *models.Transaction, payment *square.Payment) error {
	if txn.OrderID == nil {
		return errors.New("mismatched payment has no order")
	}
	_, err := j.flags.Raise(ctx, reconciliation.FlagInput{
		EntityType: enums.IntegrityEntityOrder,
		EntityID:   *txn.OrderID,
		Kind:       enums.IntegrityGatewayAmountMismatch,
		Details: map[string]any{
			"transaction_id":   txn.ID.String(),
			"payment_id":       payment.ID,
			"ledger_amount":    money.Format(txn.Amount, txn.Currency),
			"ledger_currency":  txn.Currency,
			"gateway_amount":   money.Format(payment.Amount, payment.Currency),
			"gateway_currency": payment.Currency,
		},
	})
	return err
}
