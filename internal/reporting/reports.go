package reporting

import (
	"context"
	"encoding/json"
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
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// ReportInput selects what to snapshot. ShopID is required for shop
// statements and must be empty for platform revenue.
type ReportInput struct {
	Type        enums.ReportType
	ShopID      *uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	Type   *enums.ReportType
	ShopID *uuid.UUID
}

// PeriodTotals sums the commissions calculated in a period for one currency.
// Disputed commissions are counted separately and excluded from the rest.
type PeriodTotals struct {
	Currency    string `json:"currency"`
	Commissions int    `json:"commission_count"`
	Gross       string `json:"gross"`
	Commission  string `json:"commission"`
	PlatformFee string `json:"platform_fee"`
	Net         string `json:"net"`
	Disputed    string `json:"disputed_net"`
	Refunded    string `json:"refunded,omitempty"`
}

// ShopStatement is the stored body of a shop_statement report.
type ShopStatement struct {
	Period  []PeriodTotals `json:"period"`
	Balance *ShopBalance   `json:"balance"`
}

// PlatformRevenue is the stored body of a platform_revenue report.
type PlatformRevenue struct {
	Period []PeriodTotals `json:"period"`
}

type totals struct {
	count                                      int
	gross, commission, fee, net, disputed, ref decimal.Decimal
}

// GenerateReport computes and stores a report snapshot for the period.
func (s *service) GenerateReport(ctx context.Context, input ReportInput) (*models.FinancialReport, error) {
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid report type %q", input.Type))
	}
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period start and end required")
	}
	start, end := input.PeriodStart.UTC(), input.PeriodEnd.UTC()
	if !end.After(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}

	var body any
	switch input.Type {
	case enums.ReportShopStatement:
		if input.ShopID == nil || *input.ShopID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id required for shop statement")
		}
		balance, err := s.ShopBalance(ctx, *input.ShopID)
		if err != nil {
			return nil, err
		}
		period, err := s.periodTotals(ctx, input.ShopID, start, end, false)
		if err != nil {
			return nil, err
		}
		body = ShopStatement{Period: period, Balance: balance}
	case enums.ReportPlatformRevenue:
		if input.ShopID != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform revenue is not scoped to a shop")
		}
		period, err := s.periodTotals(ctx, nil, start, end, true)
		if err != nil {
			return nil, err
		}
		body = PlatformRevenue{Period: period}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode report")
	}
	report := &models.FinancialReport{
		ReportType:  input.Type,
		ShopID:      input.ShopID,
		PeriodStart: start,
		PeriodEnd:   end,
		Data:        data,
		GeneratedAt: s.now().UTC(),
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store report")
	}

	logCtx := s.logg.WithEntity(ctx, "report", report.ID)
	s.logg.Info(s.logg.WithField(logCtx, "report_type", string(report.ReportType)), "financial report generated")
	return report, nil
}

func (s *service) periodTotals(ctx context.Context, shopID *uuid.UUID, start, end time.Time, withRefunds bool) ([]PeriodTotals, error) {
	rows, err := s.repo.PeriodCommissions(ctx, shopID, start, end)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load period commissions")
	}
	byCurrency := map[string]*totals{}
	get := func(currency string) *totals {
		t, ok := byCurrency[currency]
		if !ok {
			t = &totals{}
			byCurrency[currency] = t
		}
		return t
	}
	for _, row := range rows {
		t := get(row.Currency)
		if row.Status == enums.CommissionStatusDisputed {
			t.disputed = t.disputed.Add(row.NetAmount)
			continue
		}
		t.count++
		t.gross = t.gross.Add(row.GrossAmount)
		t.commission = t.commission.Add(row.CommissionAmount)
		t.fee = t.fee.Add(row.PlatformFee)
		t.net = t.net.Add(row.NetAmount)
	}
	if withRefunds {
		refunds, err := s.repo.PeriodRefunds(ctx, start, end)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load period refunds")
		}
		for _, row := range refunds {
			t := get(row.Currency)
			t.ref = t.ref.Add(row.Amount)
		}
	}

	out := make([]PeriodTotals, 0, len(byCurrency))
	for currency, t := range byCurrency {
		entry := PeriodTotals{
			Currency:    currency,
			Commissions: t.count,
			Gross:       money.Format(t.gross, currency),
			Commission:  money.Format(t.commission, currency),
			PlatformFee: money.Format(t.fee, currency),
			Net:         money.Format(t.net, currency),
			Disputed:    money.Format(t.disputed, currency),
		}
		if withRefunds {
			entry.Refunded = money.Format(t.ref, currency)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (s *service) GetReport(ctx context.Context, id uuid.UUID) (*models.FinancialReport, error) {
	report, err := s.repo.FindReport(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "report not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load report")
	}
	return report, nil
}

func (s *service) ListReports(ctx context.Context, filter ReportFilter, page pagination.Page) ([]models.FinancialReport, int64, error) {
	if filter.Type != nil && !filter.Type.IsValid() {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid report type %q", *filter.Type))
	}
	rows, total, err := s.repo.ListReports(ctx, filter, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reports")
	}
	return rows, total, nil
}
