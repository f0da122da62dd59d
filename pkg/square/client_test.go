package square

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

func TestNewClientValidatesConfig(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})
	_, err := NewClient(t.Context(), config.SquareConfig{AccessToken: "tok"}, nil)
	assert.ErrorIs(t, err, errLoggerRequired)
	_, err = NewClient(t.Context(), config.SquareConfig{Env: "sandbox"}, logg)
	assert.ErrorIs(t, err, errAccessTokenRequired)
	_, err = NewClient(t.Context(), config.SquareConfig{AccessToken: "tok", Env: "staging"}, logg)
	assert.ErrorIs(t, err, errInvalidSquareEnv)

	c, err := NewClient(t.Context(), config.SquareConfig{AccessToken: "tok", Env: "Production"}, logg)
	require.NoError(t, err)
	assert.Equal(t, productionEnv, c.Environment())
}

func TestGetPayment(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	id := "pay_9"
	status := "FAILED"
	var asked string
	c := &Client{logg: logg, getPayment: func(_ context.Context, paymentID string) (*sq.Payment, error) {
		asked = paymentID
		return &sq.Payment{ID: &id, Status: &status}, nil
	}}

	payment, err := c.GetPayment(t.Context(), " pay_9 ")
	require.NoError(t, err)
	assert.Equal(t, "pay_9", asked)
	assert.Equal(t, PaymentFailed, payment.Status)

	_, err = c.GetPayment(t.Context(), "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	c.getPayment = func(context.Context, string) (*sq.Payment, error) {
		return nil, sqcore.NewAPIError(http.StatusNotFound, errors.New(`{"errors":[]}`))
	}
	_, err = c.GetPayment(t.Context(), "pay_missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
		{http.StatusTeapot, pkgerrors.CodeValidation},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, codeForStatus(tt.status), "status %d", tt.status)
	}
}

func TestMapError(t *testing.T) {
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			status:   http.StatusUnauthorized,
			payload:  `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "idempotency reuse beats status",
			status:   http.StatusBadRequest,
			payload:  `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`,
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "payment not found",
			status:   http.StatusNotFound,
			payload:  `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`,
			wantCode: pkgerrors.CodeNotFound,
		},
	}
	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(sqcore.NewAPIError(tt.status, errors.New(tt.payload)), "get payment")
			typed := pkgerrors.As(mapped)
			require.NotNil(t, typed)
			assert.Equal(t, tt.wantCode, typed.Code())
		})
	}
	assert.True(t, pkgerrors.IsCode(mapError(errors.New("dial tcp"), "get payment"), pkgerrors.CodeDependency))
}

func TestSquareErrors(t *testing.T) {
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"},null]}`
	got := squareErrors(sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload)))
	require.Len(t, got, 1)
	assert.Equal(t, sq.ErrorCodeBadRequest, got[0].GetCode())

	assert.Empty(t, squareErrors(sqcore.NewAPIError(http.StatusBadGateway, errors.New("<html>"))))
}

func TestFromSquarePayment(t *testing.T) {
	id := "pay_123"
	status := "completed"
	amount := int64(12345)
	usd := sq.Currency("USD")
	payment, err := fromSquarePayment(&sq.Payment{
		ID:          &id,
		Status:      &status,
		AmountMoney: &sq.Money{Amount: &amount, Currency: &usd},
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_123", payment.ID)
	assert.Equal(t, PaymentCompleted, payment.Status)
	assert.True(t, payment.Status.Terminal())
	assert.True(t, decimal.RequireFromString("123.45").Equal(payment.Amount))
	assert.Equal(t, "USD", payment.Currency)
	assert.NotEmpty(t, payment.Raw)

	jpy := sq.Currency("JPY")
	payment, err = fromSquarePayment(&sq.Payment{ID: &id, AmountMoney: &sq.Money{Amount: &amount, Currency: &jpy}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(12345).Equal(payment.Amount))
	assert.False(t, payment.Status.Terminal())

	_, err = fromSquarePayment(nil)
	assert.Error(t, err)
}
