package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/pkg/auth"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type memoryIdempotency struct {
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryIdempotency) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.data[key] != expected {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

type routerHarness struct {
	cfg    *config.Config
	signer *auth.Signer
	client *db.Client
	router http.Handler
	shop   models.ShopAccount
	actors map[enums.ActorRole]uuid.UUID
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test"},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "settlement-ledger", ExpirationMinutes: 30},
		Eventing: config.EventingConfig{HTTPIdempotencyTTL: time.Hour},
	}
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	cfg := testConfig()
	client := dbtest.Open(t)
	logg := dbtest.Logger()
	svc, err := app.Build(config.SettlementConfig{
		DefaultCommissionRate: "10",
		PlatformFeeFlat:       "1",
		DefaultCurrency:       "USD",
		PayoutMinimum:         "1",
		InvoiceTaxRate:        "0",
		InvoiceDueIn:          30 * 24 * time.Hour,
	}, client, logg, nil)
	require.NoError(t, err)
	signer, err := auth.NewSigner(cfg.JWT)
	require.NoError(t, err)

	router := NewRouter(cfg, logg, Deps{
		DB:          client,
		Redis:       stubPinger{},
		Idempotency: &memoryIdempotency{data: map[string]string{}},
		Tokens:      signer,
	}, Services{
		Orders:         svc.Orders,
		Refunds:        svc.Refunds,
		Ledger:         svc.Ledger,
		Commissions:    svc.Commissions,
		Payouts:        svc.Payouts,
		Wallets:        svc.Wallets,
		Shops:          svc.Shops,
		Invoices:       svc.Invoices,
		Reconciliation: svc.Reconciliation,
		Reporting:      svc.Reporting,
		DeadLetters:    outbox.NewDLQRepository(client.DB()),
	})
	return &routerHarness{
		cfg:    cfg,
		signer: signer,
		client: client,
		router: router,
		shop:   dbtest.SeedShop(t, client, "10"),
		actors: map[enums.ActorRole]uuid.UUID{
			enums.ActorRoleService:   uuid.New(),
			enums.ActorRoleAdmin:     uuid.New(),
			enums.ActorRoleReporting: uuid.New(),
		},
	}
}

func (h *routerHarness) token(t *testing.T, role enums.ActorRole) string {
	t.Helper()
	token, err := h.signer.Mint(auth.TokenPayload{ActorID: h.actors[role], Role: role, JTI: uuid.NewString()}, 0)
	require.NoError(t, err)
	return token
}

func (h *routerHarness) do(t *testing.T, method, path string, role enums.ActorRole, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, role))
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope), resp.Body.String())
	return envelope.Data
}

func (h *routerHarness) orderBody(number string) map[string]any {
	return map[string]any{
		"order_number":    number,
		"customer_id":     uuid.NewString(),
		"currency":        "usd",
		"tax_amount":      "12.00",
		"shipping_amount": "5.00",
		"discount_amount": "2.00",
		"total_amount":    "165.00",
		"items": []map[string]any{
			{"shop_id": h.shop.ID.String(), "product_ref": "sku-1", "product_name": "Kettle", "quantity": 2, "unit_price": "50.00"},
			{"shop_id": h.shop.ID.String(), "product_ref": "sku-2", "quantity": 1, "unit_price": "50.00"},
		},
		"payment": map[string]any{"gateway_ref": "sq-1", "captured": true},
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newRouterHarness(t)

	live := h.do(t, http.MethodGet, "/health/live", "", nil, "")
	assert.Equal(t, http.StatusOK, live.Code)

	ready := h.do(t, http.MethodGet, "/health/ready", "", nil, "")
	assert.Equal(t, http.StatusOK, ready.Code)
}

func TestHealthReadyReportsDependencyFailure(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, dbtest.Logger(), Deps{Redis: stubPinger{err: fmt.Errorf("connection refused")}}, Services{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestV1RequiresToken(t *testing.T) {
	h := newRouterHarness(t)
	resp := h.do(t, http.MethodGet, "/v1/orders/"+uuid.NewString(), "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRoleGates(t *testing.T) {
	h := newRouterHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   enums.ActorRole
		want   int
	}{
		{"reporting cannot create orders", http.MethodPost, "/v1/orders", enums.ActorRoleReporting, http.StatusForbidden},
		{"service cannot list flags", http.MethodGet, "/v1/integrity/flags", enums.ActorRoleService, http.StatusForbidden},
		{"admin lists flags", http.MethodGet, "/v1/integrity/flags", enums.ActorRoleAdmin, http.StatusOK},
		{"service cannot read ledger", http.MethodGet, "/v1/transactions", enums.ActorRoleService, http.StatusForbidden},
		{"reporting reads ledger", http.MethodGet, "/v1/transactions", enums.ActorRoleReporting, http.StatusOK},
		{"reporting cannot dispatch payouts", http.MethodPost, "/v1/payouts/" + uuid.NewString() + "/dispatch", enums.ActorRoleReporting, http.StatusForbidden},
		{"reporting cannot see dead letters", http.MethodGet, "/v1/outbox/dead-letters", enums.ActorRoleReporting, http.StatusForbidden},
		{"admin lists dead letters", http.MethodGet, "/v1/outbox/dead-letters?event_type=payout.requested", enums.ActorRoleAdmin, http.StatusOK},
		{"reporting cannot void invoices", http.MethodPost, "/v1/invoices/" + uuid.NewString() + "/void", enums.ActorRoleReporting, http.StatusForbidden},
		{"service cannot list reports", http.MethodGet, "/v1/reports", enums.ActorRoleService, http.StatusForbidden},
		{"requeue of unknown dead letter", http.MethodPost, "/v1/outbox/dead-letters/" + uuid.NewString() + "/requeue", enums.ActorRoleAdmin, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, tt.role, map[string]any{}, "key-"+uuid.NewString())
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
		})
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	h := newRouterHarness(t)
	body := h.orderBody("ORD-HTTP-1")

	created := h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, body, "intake-1")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	order := decodeData(t, created)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "USD", order["currency"])
	assert.Equal(t, "165.00", order["total_amount"])
	orderID := order["id"].(string)

	replay := h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, body, "intake-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, orderID, decodeData(t, replay)["id"])
	assert.Equal(t, int64(1), dbtest.Count(t, h.client, "orders"))

	moved := h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/status", enums.ActorRoleService, map[string]any{"status": "processing"}, "")
	require.Equal(t, http.StatusOK, moved.Code, moved.Body.String())
	assert.Equal(t, "processing", decodeData(t, moved)["status"])

	history := h.do(t, http.MethodGet, "/v1/orders/"+orderID+"/history", enums.ActorRoleReporting, nil, "")
	require.Equal(t, http.StatusOK, history.Code)

	txns := h.do(t, http.MethodGet, "/v1/orders/"+orderID+"/transactions", enums.ActorRoleReporting, nil, "")
	require.Equal(t, http.StatusOK, txns.Code)
	assert.EqualValues(t, 3, decodeData(t, txns)["total"])

	refund := h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/refunds", enums.ActorRoleService,
		map[string]any{"amount": "15.00", "reason": "late delivery", "credit_wallet": true}, "refund-1")
	require.Equal(t, http.StatusCreated, refund.Code, refund.Body.String())
	assert.Equal(t, "15.00", decodeData(t, refund)["amount"])

	customerID := order["customer_id"].(string)
	walletResp := h.do(t, http.MethodGet, "/v1/wallets/"+customerID, enums.ActorRoleService, nil, "")
	require.Equal(t, http.StatusOK, walletResp.Code)
	assert.Equal(t, "15.00", decodeData(t, walletResp)["balance"])

	commissionsResp := h.do(t, http.MethodGet, "/v1/shops/"+h.shop.ID.String()+"/commissions", enums.ActorRoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, commissionsResp.Code)
	assert.EqualValues(t, 2, decodeData(t, commissionsResp)["total"])

	balance := h.do(t, http.MethodGet, "/v1/shops/"+h.shop.ID.String()+"/balance", enums.ActorRoleReporting, nil, "")
	require.Equal(t, http.StatusOK, balance.Code)
	balances := decodeData(t, balance)["balances"].([]any)
	require.NotEmpty(t, balances)
	assert.Equal(t, "USD", balances[0].(map[string]any)["currency"])

	report := h.do(t, http.MethodPost, "/v1/integrity/reconcile/orders/"+orderID, enums.ActorRoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, report.Code, report.Body.String())
}

func TestIllegalTransitionConflicts(t *testing.T) {
	h := newRouterHarness(t)
	created := h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, h.orderBody("ORD-HTTP-2"), "intake-2")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	orderID := decodeData(t, created)["id"].(string)

	resp := h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/status", enums.ActorRoleAdmin, map[string]any{"status": "delivered"}, "")
	assert.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}

func TestRequestValidation(t *testing.T) {
	h := newRouterHarness(t)

	missingItems := h.orderBody("ORD-HTTP-3")
	delete(missingItems, "items")
	resp := h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, missingItems, "intake-3")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/v1/orders/not-a-uuid", enums.ActorRoleAdmin, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, h.orderBody("ORD-HTTP-4"), "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/v1/orders/"+uuid.NewString(), enums.ActorRoleAdmin, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestInvoicesAndReportsOverHTTP(t *testing.T) {
	h := newRouterHarness(t)
	created := h.do(t, http.MethodPost, "/v1/orders", enums.ActorRoleService, h.orderBody("ORD-HTTP-5"), "intake-5")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	orderID := decodeData(t, created)["id"].(string)
	moved := h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/status", enums.ActorRoleService, map[string]any{"status": "processing"}, "")
	require.Equal(t, http.StatusOK, moved.Code, moved.Body.String())

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	period := map[string]any{"period_start": start, "period_end": start.AddDate(0, 0, 1)}
	shopInvoices := "/v1/shops/" + h.shop.ID.String() + "/invoices"

	generated := h.do(t, http.MethodPost, shopInvoices, enums.ActorRoleAdmin, period, "invoice-1")
	require.Equal(t, http.StatusCreated, generated.Code, generated.Body.String())
	invoice := decodeData(t, generated)
	assert.Equal(t, "draft", invoice["status"])
	assert.EqualValues(t, 2, invoice["commission_count"])
	invoiceID := invoice["id"].(string)

	again := h.do(t, http.MethodPost, shopInvoices, enums.ActorRoleAdmin, period, "invoice-2")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Equal(t, invoiceID, decodeData(t, again)["id"])

	sent := h.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/send", enums.ActorRoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, sent.Code, sent.Body.String())
	assert.NotEmpty(t, decodeData(t, sent)["due_date"])

	voided := h.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/void", enums.ActorRoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, voided.Code, voided.Body.String())
	paid := h.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/pay", enums.ActorRoleAdmin, nil, "")
	assert.Equal(t, http.StatusConflict, paid.Code, paid.Body.String())

	list := h.do(t, http.MethodGet, shopInvoices+"?status=void", enums.ActorRoleReporting, nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.EqualValues(t, 1, decodeData(t, list)["total"])

	report := h.do(t, http.MethodPost, "/v1/reports", enums.ActorRoleAdmin, map[string]any{
		"report_type":  "shop_statement",
		"shop_id":      h.shop.ID.String(),
		"period_start": start,
		"period_end":   start.AddDate(0, 0, 1),
	}, "report-1")
	require.Equal(t, http.StatusCreated, report.Code, report.Body.String())
	reportID := decodeData(t, report)["id"].(string)

	fetched := h.do(t, http.MethodGet, "/v1/reports/"+reportID, enums.ActorRoleReporting, nil, "")
	require.Equal(t, http.StatusOK, fetched.Code)
	body := decodeData(t, fetched)["data"].(map[string]any)
	assert.Len(t, body["period"], 1)

	bad := h.do(t, http.MethodPost, "/v1/reports", enums.ActorRoleAdmin, map[string]any{
		"report_type":  "weekly",
		"period_start": start,
		"period_end":   start.AddDate(0, 0, 1),
	}, "report-2")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
