// Package square wraps the Square SDK calls the ledger uses to confirm
// gateway payments.
package square

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/settlement-ledger/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

const (
	sandboxEnv     = "sandbox"
	productionEnv  = "production"
	defaultTimeout = 10 * time.Second
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

type paymentFetcher func(ctx context.Context, paymentID string) (*sq.Payment, error)

// Client reads payment state from Square and maps SDK failures onto ledger
// error codes.
type Client struct {
	getPayment  paymentFetcher
	environment string
	logg        *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(token),
		sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	logg.Info(logg.WithFields(ctx, map[string]any{
		"square_env": env,
		"timeout":    timeout.String(),
	}), "square client initialized")

	fetch := func(ctx context.Context, paymentID string) (*sq.Payment, error) {
		resp, err := sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
		if err != nil {
			return nil, err
		}
		return resp.GetPayment(), nil
	}
	return &Client{getPayment: fetch, environment: env, logg: logg}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// GetPayment fetches the current state of a Square payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payment id required")
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{"operation": "get_payment", "payment_id": paymentID})
	started := time.Now()

	raw, err := c.getPayment(ctx, paymentID)
	if err != nil {
		mapped := mapError(err, "get payment")
		c.logg.Error(c.logg.WithField(logCtx, "code", string(pkgerrors.As(mapped).Code())), "square call failed", err)
		return nil, mapped
	}

	payment, err := fromSquarePayment(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode square payment")
	}
	c.logg.Debug(c.logg.WithFields(logCtx, map[string]any{
		"status":      string(payment.Status),
		"duration_ms": time.Since(started).Milliseconds(),
	}), "square call complete")
	return payment, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		return sandboxEnv, nil
	}
	if _, ok := baseURLs[env]; !ok {
		return "", errInvalidSquareEnv
	}
	return env, nil
}
