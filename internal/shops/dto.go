package shops

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// ShopDTO exposes a shop's settlement terms in API responses.
type ShopDTO struct {
	ID                uuid.UUID          `json:"id"`
	Name              string             `json:"name"`
	CommissionRate    decimal.Decimal    `json:"commission_rate"`
	PayoutMethod      enums.PayoutMethod `json:"payout_method"`
	PayoutDestination json.RawMessage    `json:"payout_destination,omitempty"`
	Currency          string             `json:"currency"`
	CategoryRates     []CategoryRateDTO  `json:"category_rates"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// CategoryRateDTO is one category override.
type CategoryRateDTO struct {
	CategoryID     uuid.UUID       `json:"category_id"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// UpsertInput carries the full settlement account for a shop.
type UpsertInput struct {
	ShopID            uuid.UUID
	Name              string
	CommissionRate    decimal.Decimal
	PayoutMethod      enums.PayoutMethod
	PayoutDestination json.RawMessage
	Currency          string
}

// FromModel maps the persisted account and its overrides into a DTO.
func FromModel(m *models.ShopAccount, rates []models.ShopCategoryRate) *ShopDTO {
	if m == nil {
		return nil
	}
	dto := &ShopDTO{
		ID:                m.ID,
		Name:              m.Name,
		CommissionRate:    m.CommissionRate,
		PayoutMethod:      m.PayoutMethod,
		PayoutDestination: m.PayoutDestination,
		Currency:          m.Currency,
		CategoryRates:     make([]CategoryRateDTO, 0, len(rates)),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	for _, rate := range rates {
		dto.CategoryRates = append(dto.CategoryRates, CategoryRateDTO{
			CategoryID:     rate.CategoryID,
			CommissionRate: rate.CommissionRate,
			UpdatedAt:      rate.UpdatedAt,
		})
	}
	return dto
}
