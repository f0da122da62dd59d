package shops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

type shopRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.ShopAccount, error)
	Upsert(ctx context.Context, shop *models.ShopAccount) error
	List(ctx context.Context, page pagination.Page) ([]models.ShopAccount, int64, error)
	UpsertCategoryRate(ctx context.Context, rate *models.ShopCategoryRate) error
	DeleteCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (bool, error)
	ListCategoryRates(ctx context.Context, shopID uuid.UUID) ([]models.ShopCategoryRate, error)
}

// Service manages shop settlement accounts. Rate changes only affect items
// created afterwards; existing items keep their frozen terms.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*ShopDTO, error)
	List(ctx context.Context, page pagination.Page) ([]ShopDTO, int64, error)
	Upsert(ctx context.Context, input UpsertInput) (*ShopDTO, error)
	SetCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID, rate decimal.Decimal) (*ShopDTO, error)
	RemoveCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (*ShopDTO, error)
}

type service struct {
	repo            shopRepository
	defaultCurrency string
	logg            *logger.Logger
}

// NewService builds a shop service with the provided repository.
func NewService(repo shopRepository, defaultCurrency string, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("shop repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !money.IsSupported(defaultCurrency) {
		return nil, fmt.Errorf("unsupported default currency %q", defaultCurrency)
	}
	return &service{repo: repo, defaultCurrency: money.NormalizeCurrency(defaultCurrency), logg: logg}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*ShopDTO, error) {
	shop, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	rates, err := s.repo.ListCategoryRates(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category rates")
	}
	return FromModel(shop, rates), nil
}

func (s *service) List(ctx context.Context, page pagination.Page) ([]ShopDTO, int64, error) {
	rows, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shops")
	}
	out := make([]ShopDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i], nil))
	}
	return out, total, nil
}

func (s *service) Upsert(ctx context.Context, input UpsertInput) (*ShopDTO, error) {
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop name required")
	}
	if err := commissions.ValidateRate(input.CommissionRate); err != nil {
		return nil, err
	}
	if !input.PayoutMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payout method %q", input.PayoutMethod))
	}
	currency := s.defaultCurrency
	if strings.TrimSpace(input.Currency) != "" {
		if !money.IsSupported(input.Currency) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Currency))
		}
		currency = money.NormalizeCurrency(input.Currency)
	}
	if len(input.PayoutDestination) > 0 && !json.Valid(input.PayoutDestination) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination must be valid JSON")
	}

	shop := &models.ShopAccount{
		ID:                input.ShopID,
		Name:              name,
		CommissionRate:    input.CommissionRate,
		PayoutMethod:      input.PayoutMethod,
		PayoutDestination: input.PayoutDestination,
		Currency:          currency,
	}
	if err := s.repo.Upsert(ctx, shop); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert shop")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"shop_id":         shop.ID.String(),
		"commission_rate": shop.CommissionRate.String(),
		"payout_method":   shop.PayoutMethod,
	})
	s.logg.Info(logCtx, "shop settlement account saved")
	return s.Get(ctx, shop.ID)
}

func (s *service) SetCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID, rate decimal.Decimal) (*ShopDTO, error) {
	if categoryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category id required")
	}
	if err := commissions.ValidateRate(rate); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, shopID); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertCategoryRate(ctx, &models.ShopCategoryRate{
		ShopID:         shopID,
		CategoryID:     categoryID,
		CommissionRate: rate,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert category rate")
	}
	return s.Get(ctx, shopID)
}

func (s *service) RemoveCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (*ShopDTO, error) {
	removed, err := s.repo.DeleteCategoryRate(ctx, shopID, categoryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete category rate")
	}
	if !removed {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "category rate not found")
	}
	return s.Get(ctx, shopID)
}
