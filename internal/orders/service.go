package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/internal/ledger"
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
	orderNumberIndex  = "ux_orders_order_number"
	maxOrderNumberLen = 64
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type commissionEngine interface {
	Terms(ctx context.Context, shopID uuid.UUID, categoryID *uuid.UUID, gross money.Money) (commissions.Breakdown, error)
	ComputeCommission(ctx context.Context, tx *gorm.DB, order models.Order, item models.OrderItem) (*models.Commission, error)
	DisputeForItem(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (commissions.DisputeResult, error)
}

type ledgerRecorder interface {
	Record(ctx context.Context, input ledger.RecordInput) (*models.Transaction, error)
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.Transaction, error)
}

// RefundHandler settles the money side of an order arriving at refunded.
type RefundHandler interface {
	RefundOrderTx(ctx context.Context, tx *gorm.DB, order models.Order, actorID uuid.UUID) error
}

// Service runs the order state machine.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	RecordPayment(ctx context.Context, orderID uuid.UUID, input PaymentInput) (*models.Transaction, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	commissions commissionEngine
	ledger      ledgerRecorder
	refunds     RefundHandler
	outbox      outbox.Emitter
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, engine commissionEngine, ledgerSvc ledgerRecorder, refunds RefundHandler, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if engine == nil {
		return nil, fmt.Errorf("commission engine required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund handler required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:        repo,
		tx:          tx,
		commissions: engine,
		ledger:      ledgerSvc,
		refunds:     refunds,
		outbox:      emitter,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// CreateOrder stores a new pending order with frozen commission terms. A
// replay with the same order number and payload returns the stored order
// and false.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error) {
	order, err := s.buildOrder(ctx, input)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindOrderByNumber(ctx, order.OrderNumber)
	if err == nil {
		if err := matchesReplay(existing, order); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by number")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  enums.OrderStatusPending,
			ActorID:   input.ActorID,
			Notes:     order.Notes,
			ChangedAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
		}
		if input.Payment != nil {
			if _, err := s.recordPaymentTx(ctx, tx, order, *input.Payment); err != nil {
				return err
			}
		}
		return s.emitStatusChanged(ctx, tx, order, "", enums.OrderStatusPending, input.ActorID, now)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, orderNumberIndex) {
			existing, findErr := s.repo.FindOrderByNumber(ctx, order.OrderNumber)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load order by number")
			}
			if err := matchesReplay(existing, order); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		if pkgerrors.As(err) != nil {
			return nil, false, err
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"items":        len(order.Items),
		"total":        money.Format(order.TotalAmount, order.Currency),
	})
	s.logg.Info(logCtx, "order created")
	return order, true, nil
}

func (s *service) buildOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	currency := money.NormalizeCurrency(input.Currency)
	if !money.IsSupported(currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Currency))
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	number := strings.TrimSpace(input.OrderNumber)
	if number == "" {
		number = GenerateOrderNumber(s.now())
	}
	if len(number) > maxOrderNumberLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number too long")
	}

	amount := func(field string, value decimal.Decimal) (money.Money, error) {
		m, err := money.New(value, currency)
		if err != nil {
			return money.Money{}, err
		}
		if m.IsNegative() {
			return money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, field+" must not be negative")
		}
		return m, nil
	}

	order := &models.Order{
		OrderNumber: number,
		CustomerID:  input.CustomerID,
		Status:      enums.OrderStatusPending,
		Currency:    currency,
		Notes:       input.Notes,
	}
	subtotal := money.Zero(currency)
	for i, item := range input.Items {
		if item.ShopID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: shop id required", i))
		}
		if strings.TrimSpace(item.ProductRef) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product ref required", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		unit, err := amount(fmt.Sprintf("items[%d].unit_price", i), item.UnitPrice)
		if err != nil {
			return nil, err
		}
		line := unit.Mul(int64(item.Quantity)).Round()
		terms, err := s.commissions.Terms(ctx, item.ShopID, item.CategoryID, line)
		if err != nil {
			return nil, err
		}
		if item.PlatformFee != nil {
			fee, err := amount(fmt.Sprintf("items[%d].platform_fee", i), *item.PlatformFee)
			if err != nil {
				return nil, err
			}
			if terms, err = commissions.Calculate(line, terms.Rate, fee); err != nil {
				return nil, err
			}
		}
		name := strings.TrimSpace(item.ProductName)
		if name == "" {
			name = item.ProductRef
		}
		order.Items = append(order.Items, models.OrderItem{
			ShopID:           item.ShopID,
			CategoryID:       item.CategoryID,
			ProductRef:       strings.TrimSpace(item.ProductRef),
			ProductName:      name,
			Quantity:         item.Quantity,
			UnitPrice:        unit.Amount,
			LineTotal:        line.Amount,
			CommissionRate:   terms.Rate,
			CommissionAmount: terms.Commission.Amount,
			PlatformFee:      terms.Fee.Amount,
			Status:           enums.OrderItemStatusPending,
		})
		if subtotal, err = subtotal.Add(line); err != nil {
			return nil, err
		}
	}

	if input.Subtotal != nil {
		declared, err := amount("subtotal", *input.Subtotal)
		if err != nil {
			return nil, err
		}
		if !declared.Equal(subtotal) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal does not match item totals").
				WithDetails(map[string]any{"subtotal": declared.Fixed(), "items": subtotal.Fixed()})
		}
	}
	tax, err := amount("tax_amount", input.TaxAmount)
	if err != nil {
		return nil, err
	}
	shipping, err := amount("shipping_amount", input.ShippingAmount)
	if err != nil {
		return nil, err
	}
	discount, err := amount("discount_amount", input.DiscountAmount)
	if err != nil {
		return nil, err
	}
	total, err := amount("total_amount", input.TotalAmount)
	if err != nil {
		return nil, err
	}
	expected := subtotal.Amount.Add(tax.Amount).Add(shipping.Amount).Sub(discount.Amount)
	if !expected.Equal(total.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total must equal subtotal + tax + shipping - discount").
			WithDetails(map[string]any{"total": total.Fixed(), "expected": money.Format(expected, currency)})
	}

	order.Subtotal = subtotal.Amount
	order.TaxAmount = tax.Amount
	order.ShippingAmount = shipping.Amount
	order.DiscountAmount = discount.Amount
	order.TotalAmount = total.Amount
	return order, nil
}

// matchesReplay compares the fields that identify an order payload.
func matchesReplay(existing, incoming *models.Order) error {
	same := existing.CustomerID == incoming.CustomerID &&
		existing.Currency == incoming.Currency &&
		existing.TotalAmount.Equal(incoming.TotalAmount) &&
		len(existing.Items) == len(incoming.Items)
	if !same {
		return pkgerrors.New(pkgerrors.CodeIdempotency, "order number already used for a different order")
	}
	return nil
}

// GenerateOrderNumber returns an order number in the ORD-YYYYMMDD-XXXXXXXX form.
func GenerateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// Transition moves an order along the state machine under a row lock and
// applies the settlement side effects of the target status.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.To))
	}

	var result *models.Order
	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		from = order.Status
		if !CanTransition(from, input.To) {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("order cannot move from %s to %s", from, input.To))
		}

		now := s.now().UTC()
		updates := map[string]any{"status": input.To}
		if column := timestampColumn(input.To); column != "" {
			updates[column] = now
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if itemStatus, ok := itemStatusFor(input.To); ok {
			if _, err := repo.UpdateOpenItemStatuses(ctx, order.ID, itemStatus); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update item statuses")
			}
		}
		fromStatus := from
		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:    order.ID,
			FromStatus: &fromStatus,
			ToStatus:   input.To,
			ActorID:    input.ActorID,
			Notes:      input.Notes,
			ChangedAt:  now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
		}

		if err := s.applySettlement(ctx, tx, order, input, now); err != nil {
			return err
		}
		if err := s.emitStatusChanged(ctx, tx, order, from, input.To, input.ActorID, now); err != nil {
			return err
		}

		result, err = repo.FindOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithEntity(ctx, "order", result.ID), map[string]any{
		"from":     from,
		"to":       input.To,
		"actor_id": input.ActorID.String(),
	})
	s.logg.Info(logCtx, "order transitioned")
	return result, nil
}

func (s *service) applySettlement(ctx context.Context, tx *gorm.DB, order *models.Order, input TransitionInput, now time.Time) error {
	switch input.To {
	case enums.OrderStatusProcessing:
		if order.ProcessingAt != nil {
			return nil
		}
		computed := *order
		computed.ProcessingAt = &now
		for _, item := range order.Items {
			if item.Status.IsClosed() {
				continue
			}
			if _, err := s.commissions.ComputeCommission(ctx, tx, computed, item); err != nil {
				return err
			}
		}
	case enums.OrderStatusCancelled, enums.OrderStatusFailed:
		for _, item := range order.Items {
			if _, err := s.commissions.DisputeForItem(ctx, tx, item.ID); err != nil {
				return err
			}
		}
	case enums.OrderStatusRefunded:
		return s.refunds.RefundOrderTx(ctx, tx, *order, input.ActorID)
	}
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from, to enums.OrderStatus, actorID uuid.UUID, at time.Time) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{ActorID: actorID},
		OccurredAt:    at,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			From:        from,
			To:          to,
			ActorID:     actorID,
			TotalAmount: money.Format(order.TotalAmount, order.Currency),
			Currency:    order.Currency,
			ChangedAt:   at,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order status changed")
	}
	return nil
}

// RecordPayment appends a payment ledger row for the order.
func (s *service) RecordPayment(ctx context.Context, orderID uuid.UUID, input PaymentInput) (*models.Transaction, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	record, err := paymentRecord(order, input)
	if err != nil {
		return nil, err
	}
	return s.ledger.Record(ctx, record)
}

func (s *service) recordPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, input PaymentInput) (*models.Transaction, error) {
	record, err := paymentRecord(order, input)
	if err != nil {
		return nil, err
	}
	return s.ledger.RecordTx(ctx, tx, record)
}

func paymentRecord(order *models.Order, input PaymentInput) (ledger.RecordInput, error) {
	value := input.Amount
	if value.IsZero() {
		value = order.TotalAmount
	}
	amount, err := money.New(value, order.Currency)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	if amount.Amount.GreaterThan(order.TotalAmount) {
		return ledger.RecordInput{}, pkgerrors.New(pkgerrors.CodeValidation, "payment exceeds order total")
	}
	orderID, customerID := order.ID, order.CustomerID
	record := ledger.RecordInput{
		Type:           enums.TransactionTypePayment,
		Amount:         amount,
		OrderID:        &orderID,
		UserID:         &customerID,
		IdempotencyKey: strings.TrimSpace(input.IdempotencyKey),
		Description:    fmt.Sprintf("payment for %s", order.OrderNumber),
		Settled:        input.Captured,
	}
	if ref := strings.TrimSpace(input.GatewayRef); ref != "" {
		record.GatewayRef = &ref
		if record.IdempotencyKey == "" {
			record.IdempotencyKey = "payment:" + ref
		}
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}
	return rows, nil
}

func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	rows, err := s.repo.ListOrders(ctx, filters, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{}
	list.Orders, list.NextCursor = pagination.Trim(rows, params.Limit, func(row models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return list, nil
}
