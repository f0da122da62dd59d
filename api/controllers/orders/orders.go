package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/middleware"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	internalorders "github.com/angelmondragon/settlement-ledger/internal/orders"
	"github.com/angelmondragon/settlement-ledger/internal/refunds"
	"github.com/angelmondragon/settlement-ledger/internal/reporting"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

const maxNotesLength = 1000

type createOrderRequest struct {
	OrderNumber    string              `json:"order_number" validate:"omitempty,max=64"`
	CustomerID     string              `json:"customer_id" validate:"required,uuid"`
	Currency       string              `json:"currency" validate:"required,currency"`
	Subtotal       *string             `json:"subtotal" validate:"omitempty,decimal"`
	TaxAmount      string              `json:"tax_amount" validate:"omitempty,decimal"`
	ShippingAmount string              `json:"shipping_amount" validate:"omitempty,decimal"`
	DiscountAmount string              `json:"discount_amount" validate:"omitempty,decimal"`
	TotalAmount    string              `json:"total_amount" validate:"required,decimal"`
	Notes          *string             `json:"notes" validate:"omitempty,max=1000"`
	Items          []createItemRequest `json:"items" validate:"required,min=1,dive"`
	Payment        *paymentRequest     `json:"payment"`
}

type createItemRequest struct {
	ShopID      string  `json:"shop_id" validate:"required,uuid"`
	CategoryID  *string `json:"category_id" validate:"omitempty,uuid"`
	ProductRef  string  `json:"product_ref" validate:"required,max=128"`
	ProductName string  `json:"product_name" validate:"omitempty,max=255"`
	Quantity    int     `json:"quantity" validate:"required,min=1"`
	UnitPrice   string  `json:"unit_price" validate:"required,decimal"`
	PlatformFee *string `json:"platform_fee" validate:"omitempty,decimal"`
}

type paymentRequest struct {
	Amount     string `json:"amount" validate:"omitempty,positive_decimal"`
	GatewayRef string `json:"gateway_ref" validate:"omitempty,max=255"`
	Captured   bool   `json:"captured"`
}

type transitionRequest struct {
	Status string  `json:"status" validate:"required"`
	Notes  *string `json:"notes" validate:"omitempty,max=1000"`
}

type refundRequest struct {
	ItemID       *string `json:"item_id" validate:"omitempty,uuid"`
	Amount       string  `json:"amount" validate:"required,positive_decimal"`
	Reason       string  `json:"reason" validate:"required,max=500"`
	CreditWallet bool    `json:"credit_wallet"`
}

// Create accepts an OrderCreated message. A replayed order number answers
// 200 with the stored order.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.ActorID = middleware.ActorIDFromContext(r.Context())

		order, created, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, views.FromOrder(order))
	}
}

func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromOrder(order))
	}
}

// List pages orders by status, customer or shop.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParseCursorParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var filters internalorders.ListFilters
		if raw := validators.ParseQueryString(r, "status"); raw != nil {
			status, err := enums.ParseOrderStatus(*raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filters.Status = &status
		}
		if filters.CustomerID, err = validators.ParseQueryUUID(r, "customer_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.ShopID, err = validators.ParseQueryUUID(r, "shop_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), filters, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.CursorOf[views.Order]{
			Items:      views.FromOrders(list.Orders),
			NextCursor: list.NextCursor,
		})
	}
}

func History(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromHistory(rows))
	}
}

// Transition applies an OrderStatusRequested message.
func Transition(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req transitionRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := enums.ParseOrderStatus(strings.TrimSpace(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.Transition(r.Context(), internalorders.TransitionInput{
			OrderID: orderID,
			To:      to,
			ActorID: middleware.ActorIDFromContext(r.Context()),
			Notes:   sanitizeNotes(req.Notes),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromOrder(order))
	}
}

// RecordPayment appends a payment ledger row. An omitted amount records
// the order total.
func RecordPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req paymentRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.RecordPayment(r.Context(), orderID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, views.FromTransaction(txn))
	}
}

// IssueRefund applies a RefundIssued message keyed by the request's
// Idempotency-Key.
func IssueRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}
		itemID, err := validators.ParseOptionalUUID(req.ItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.IssueRefund(r.Context(), refunds.RefundInput{
			OrderID:        orderID,
			ItemID:         itemID,
			Amount:         amount,
			Reason:         validators.SanitizeString(req.Reason, 500),
			CreditWallet:   req.CreditWallet,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
			ActorID:        middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, views.FromRefund(refund))
	}
}

// Transactions pages the ledger rows recorded against an order.
func Transactions(svc reporting.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.OrderTransactions(r.Context(), orderID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.NewPage(views.FromTransactions(result.Items), result.Total, result.Page))
	}
}

func (req createOrderRequest) toInput(idempotencyKey string) (internalorders.CreateOrderInput, error) {
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_id")
	}
	input := internalorders.CreateOrderInput{
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		CustomerID:  customerID,
		Currency:    req.Currency,
		Notes:       sanitizeNotes(req.Notes),
	}
	if input.Subtotal, err = optionalDecimal(req.Subtotal); err != nil {
		return input, err
	}
	amounts := []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{req.TaxAmount, &input.TaxAmount},
		{req.ShippingAmount, &input.ShippingAmount},
		{req.DiscountAmount, &input.DiscountAmount},
		{req.TotalAmount, &input.TotalAmount},
	}
	for _, a := range amounts {
		if *a.dest, err = parseDecimal(a.raw); err != nil {
			return input, err
		}
	}

	for _, item := range req.Items {
		shopID, err := uuid.Parse(item.ShopID)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shop_id")
		}
		categoryID, err := validators.ParseOptionalUUID(item.CategoryID)
		if err != nil {
			return input, err
		}
		unitPrice, err := parseDecimal(item.UnitPrice)
		if err != nil {
			return input, err
		}
		fee, err := optionalDecimal(item.PlatformFee)
		if err != nil {
			return input, err
		}
		input.Items = append(input.Items, internalorders.CreateItemInput{
			ShopID:      shopID,
			CategoryID:  categoryID,
			ProductRef:  strings.TrimSpace(item.ProductRef),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			PlatformFee: fee,
		})
	}

	if req.Payment != nil {
		payment, err := req.Payment.toInput(idempotencyKey)
		if err != nil {
			return input, err
		}
		input.Payment = &payment
	}
	return input, nil
}

func (req paymentRequest) toInput(idempotencyKey string) (internalorders.PaymentInput, error) {
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		return internalorders.PaymentInput{}, err
	}
	input := internalorders.PaymentInput{
		Amount:     amount,
		GatewayRef: strings.TrimSpace(req.GatewayRef),
		Captured:   req.Captured,
	}
	if idempotencyKey != "" {
		input.IdempotencyKey = "payment:" + idempotencyKey
	}
	return input, nil
}

// parseDecimal treats an empty string as zero.
func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return d, nil
}

func optionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := parseDecimal(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func sanitizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	clean := validators.SanitizeString(*notes, maxNotesLength)
	if clean == "" {
		return nil
	}
	return &clean
}
