package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

const (
	livePeriodIndex  = "ux_invoices_shop_period_live"
	overdueBatchSize = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GenerateInput selects the shop and billing period to invoice. The period
// is [PeriodStart, PeriodEnd) in whole UTC days.
type GenerateInput struct {
	ShopID      uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Currency    string
}

// Service bills shops for the platform commission and fees of a period.
type Service interface {
	Generate(ctx context.Context, input GenerateInput) (*models.Invoice, bool, error)
	Send(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	Void(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.InvoiceStatus, page pagination.Page) ([]models.Invoice, int64, error)
}

// ServiceParams wires the invoice service.
type ServiceParams struct {
	Repo    Repository
	DB      txRunner
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	TaxRate decimal.Decimal
	// DueIn is added to the send time to get the due date.
	DueIn time.Duration
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outbox.Emitter
	logg    *logger.Logger
	taxRate decimal.Decimal
	dueIn   time.Duration
	now     func() time.Time
}

// NewService builds the invoice service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TaxRate.IsNegative() || params.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("invoice tax rate must be between 0 and 100")
	}
	if params.DueIn <= 0 {
		return nil, fmt.Errorf("invoice due period must be positive")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.DB,
		outbox:  params.Outbox,
		logg:    params.Logger,
		taxRate: params.TaxRate,
		dueIn:   params.DueIn,
		now:     time.Now,
	}, nil
}

var errPeriodTaken = errors.New("live invoice exists for period")

// Generate creates a draft invoice for the period. When a non-void invoice
// already covers the shop, period start and currency it is returned with
// created false.
func (s *service) Generate(ctx context.Context, input GenerateInput) (*models.Invoice, bool, error) {
	if input.ShopID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "shop id required")
	}
	start := truncateDay(input.PeriodStart)
	end := truncateDay(input.PeriodEnd)
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "period start and end required")
	}
	if !end.After(start) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}
	if end.After(truncateDay(s.now()).AddDate(0, 0, 1)) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "period must not end in the future")
	}

	shop, err := s.repo.FindShop(ctx, input.ShopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "shop account not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop account")
	}
	currency := money.NormalizeCurrency(input.Currency)
	if currency == "" {
		currency = shop.Currency
	}
	if !money.IsSupported(currency) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}

	if existing, err := s.repo.FindLive(ctx, shop.ID, start, currency); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}

	var created *models.Invoice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		charges, err := repo.PeriodCharges(ctx, shop.ID, currency, start, end)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load period charges")
		}
		amounts := make([]money.Money, 0, 2*len(charges))
		for _, c := range charges {
			amounts = append(amounts,
				money.Money{Amount: c.CommissionAmount, Currency: currency},
				money.Money{Amount: c.PlatformFee, Currency: currency})
		}
		subtotal, err := money.Sum(currency, amounts...)
		if err != nil {
			return err
		}
		tax := subtotal.Percent(s.taxRate)
		total, err := subtotal.Add(tax)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		invoice := &models.Invoice{
			ShopID:        shop.ID,
			InvoiceNumber: GenerateInvoiceNumber(start),
			PeriodStart:   start,
			PeriodEnd:     end,
			Currency:      currency,
			Subtotal:      subtotal.Amount,
			TaxAmount:     tax.Amount,
			TotalAmount:   total.Amount,
			Commissions:   len(charges),
			Status:        enums.InvoiceStatusDraft,
			GeneratedAt:   now,
		}
		if err := repo.Create(ctx, invoice); err != nil {
			if dbpkg.IsUniqueViolation(err, livePeriodIndex) {
				return errPeriodTaken
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
		}
		if err := s.emit(ctx, tx, invoice, now); err != nil {
			return err
		}
		created = invoice
		return nil
	})
	if errors.Is(err, errPeriodTaken) {
		existing, findErr := s.repo.FindLive(ctx, shop.ID, start, currency)
		if findErr != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load invoice")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	logCtx := s.logg.WithEntity(s.logg.WithEntity(ctx, "shop", shop.ID), "invoice", created.ID)
	logCtx = s.logg.WithField(logCtx, "total", money.Format(created.TotalAmount, created.Currency))
	s.logg.Info(logCtx, "invoice generated")
	return created, true, nil
}

// GenerateInvoiceNumber returns INV-YYYYMM-XXXXXXXX for the period month.
func GenerateInvoiceNumber(periodStart time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", periodStart.UTC().Format("200601"), suffix)
}

// Send issues a draft invoice and starts its payment term.
func (s *service) Send(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.transition(ctx, id, enums.InvoiceStatusSent)
}

func (s *service) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.transition(ctx, id, enums.InvoiceStatusPaid)
}

// Void cancels an unpaid invoice. The period can then be invoiced again.
func (s *service) Void(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.transition(ctx, id, enums.InvoiceStatusVoid)
}

// MarkOverdue moves sent invoices past their due date to overdue.
func (s *service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	ids, err := s.repo.ListPastDueIDs(ctx, asOf.UTC(), overdueBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list past due invoices")
	}
	marked := 0
	var errs []error
	for _, id := range ids {
		if _, err := s.transition(ctx, id, enums.InvoiceStatusOverdue); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition) {
				continue
			}
			errs = append(errs, fmt.Errorf("invoice %s: %w", id, err))
			continue
		}
		marked++
	}
	return marked, multierr.Combine(errs...)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, to enums.InvoiceStatus) (*models.Invoice, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	var result *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		if !CanTransition(invoice.Status, to) {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("invoice cannot move from %s to %s", invoice.Status, to))
		}
		now := s.now().UTC()
		updates := map[string]any{"status": to}
		if column := timestampColumn(to); column != "" {
			updates[column] = now
		}
		switch to {
		case enums.InvoiceStatusSent:
			due := now.Add(s.dueIn)
			updates["due_date"] = due
			invoice.SentAt, invoice.DueDate = &now, &due
		case enums.InvoiceStatusPaid:
			invoice.PaidAt = &now
		case enums.InvoiceStatusVoid:
			invoice.VoidedAt = &now
		}
		rows, err := repo.TransitionStatus(ctx, invoice.ID, sources(to), updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
		}
		if rows != 1 {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "invoice changed during transition")
		}
		invoice.Status = to
		if err := s.emit(ctx, tx, invoice, now); err != nil {
			return err
		}
		result = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithEntity(s.logg.WithEntity(ctx, "shop", result.ShopID), "invoice", result.ID)
	s.logg.Info(s.logg.WithField(logCtx, "status", string(to)), "invoice status changed")
	return result, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	return invoice, nil
}

func (s *service) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.InvoiceStatus, page pagination.Page) ([]models.Invoice, int64, error) {
	if status != nil && !status.IsValid() {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid invoice status %q", *status))
	}
	rows, total, err := s.repo.ListByShop(ctx, shopID, status, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shop invoices")
	}
	return rows, total, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, at time.Time) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventInvoiceStatus,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		OccurredAt:    at,
		Data: payloads.InvoiceStatusEvent{
			InvoiceID:     invoice.ID,
			ShopID:        invoice.ShopID,
			InvoiceNumber: invoice.InvoiceNumber,
			Status:        invoice.Status,
			TotalAmount:   money.Format(invoice.TotalAmount, invoice.Currency),
			Currency:      invoice.Currency,
			DueDate:       invoice.DueDate,
			ChangedAt:     at,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit invoice status")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
