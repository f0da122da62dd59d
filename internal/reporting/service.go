// Package reporting serves read-only settlement reports to operators.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// CurrencyBalance sums a shop's commission nets per status in one currency.
type CurrencyBalance struct {
	Currency  string `json:"currency"`
	Pending   string `json:"pending"`
	Cleared   string `json:"cleared"`
	PaidOut   string `json:"paid_out"`
	Disputed  string `json:"disputed"`
	InFlight  string `json:"in_flight"`
	Completed string `json:"completed_payouts"`
}

// ShopBalance is the balance summary of one shop.
type ShopBalance struct {
	ShopID   uuid.UUID         `json:"shop_id"`
	Currency string            `json:"currency"`
	Balances []CurrencyBalance `json:"balances"`
}

// TransactionPage is one page of an order's ledger rows.
type TransactionPage struct {
	Items []models.Transaction
	Total int64
	Page  pagination.Page
}

// Service answers reporting reads.
type Service interface {
	ShopBalance(ctx context.Context, shopID uuid.UUID) (*ShopBalance, error)
	OrderTransactions(ctx context.Context, orderID uuid.UUID, page pagination.Page) (*TransactionPage, error)
	GenerateReport(ctx context.Context, input ReportInput) (*models.FinancialReport, error)
	GetReport(ctx context.Context, id uuid.UUID) (*models.FinancialReport, error)
	ListReports(ctx context.Context, filter ReportFilter, page pagination.Page) ([]models.FinancialReport, int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the reporting service.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reporting repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

type bucket struct {
	pending, cleared, paidOut, disputed, inFlight, completed decimal.Decimal
}

func (s *service) ShopBalance(ctx context.Context, shopID uuid.UUID) (*ShopBalance, error) {
	shop, err := s.repo.FindShop(ctx, shopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	commissions, err := s.repo.CommissionAmounts(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission amounts")
	}
	payouts, err := s.repo.PayoutAmounts(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout amounts")
	}

	buckets := map[string]*bucket{shop.Currency: {}}
	get := func(currency string) *bucket {
		b, ok := buckets[currency]
		if !ok {
			b = &bucket{}
			buckets[currency] = b
		}
		return b
	}
	for _, row := range commissions {
		b := get(row.Currency)
		switch row.Status {
		case enums.CommissionStatusPending:
			b.pending = b.pending.Add(row.NetAmount)
		case enums.CommissionStatusCleared:
			b.cleared = b.cleared.Add(row.NetAmount)
		case enums.CommissionStatusPaidOut:
			b.paidOut = b.paidOut.Add(row.NetAmount)
		case enums.CommissionStatusDisputed:
			b.disputed = b.disputed.Add(row.NetAmount)
		}
	}
	for _, row := range payouts {
		b := get(row.Currency)
		if row.Status == enums.PayoutStatusCompleted {
			b.completed = b.completed.Add(row.Amount)
		} else {
			b.inFlight = b.inFlight.Add(row.Amount)
		}
	}

	summary := &ShopBalance{ShopID: shop.ID, Currency: shop.Currency}
	for currency, b := range buckets {
		summary.Balances = append(summary.Balances, CurrencyBalance{
			Currency:  currency,
			Pending:   money.Format(b.pending, currency),
			Cleared:   money.Format(b.cleared, currency),
			PaidOut:   money.Format(b.paidOut, currency),
			Disputed:  money.Format(b.disputed, currency),
			InFlight:  money.Format(b.inFlight, currency),
			Completed: money.Format(b.completed, currency),
		})
	}
	// shop currency first, the rest alphabetically
	sort.Slice(summary.Balances, func(i, j int) bool {
		a, b := summary.Balances[i].Currency, summary.Balances[j].Currency
		if a == shop.Currency || b == shop.Currency {
			return a == shop.Currency
		}
		return a < b
	})
	return summary, nil
}

func (s *service) OrderTransactions(ctx context.Context, orderID uuid.UUID, page pagination.Page) (*TransactionPage, error) {
	if _, err := s.repo.FindOrder(ctx, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	page = page.Normalize()
	rows, total, err := s.repo.OrderTransactions(ctx, orderID, page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order transactions")
	}
	return &TransactionPage{Items: rows, Total: total, Page: page}, nil
}
