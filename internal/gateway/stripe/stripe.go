// Package stripe authorizes, captures and refunds through Stripe with manual-capture
// PaymentIntents.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const (
	DefaultBaseURL = stripego.APIURL

	// paymentMethodKey in the authorize metadata names a saved payment method. When
	// present the intent is confirmed on creation.
	paymentMethodKey = "payment_method"
)

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
	Logger    *zap.Logger
}

type Gateway struct {
	secretKey string
	intents   *paymentintent.Client
	refunds   *refund.Client
}

func New(cfg Config) *Gateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Retries stay off: the service bounds each call with its own timeout and every
	// request already carries an idempotency key for a later resubmission.
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		URL:               stripego.String(baseURL),
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	})

	return &Gateway{
		secretKey: cfg.SecretKey,
		intents:   &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds:   &refund.Client{B: backend, Key: cfg.SecretKey},
	}
}

func (g *Gateway) Authorize(ctx context.Context, req payment.AuthorizeRequest) (payment.GatewayResult, error) {
	if err := g.configured(); err != nil {
		return payment.GatewayResult{}, err
	}

	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(req.Amount.MinorUnits()),
		Currency:      stripego.String(strings.ToLower(req.Amount.Currency)),
		CaptureMethod: stripego.String(string(stripego.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	for k, v := range req.Metadata {
		if k == paymentMethodKey {
			params.PaymentMethod = stripego.String(v)
			params.Confirm = stripego.Bool(true)

			continue
		}

		params.AddMetadata(k, v)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return failure("", err, true)
	}

	return payment.GatewayResult{Status: mapIntentStatus(pi.Status), ExternalID: pi.ID, Trace: rawJSON(pi.LastResponse)}, nil
}

func (g *Gateway) Capture(ctx context.Context, req payment.CaptureRequest) (payment.GatewayResult, error) {
	if err := g.configured(); err != nil {
		return payment.GatewayResult{}, err
	}

	params := &stripego.PaymentIntentCaptureParams{
		AmountToCapture: stripego.Int64(req.Amount.MinorUnits()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.intents.Capture(req.ExternalID, params)
	if err != nil {
		return failure(req.ExternalID, err, false)
	}

	return payment.GatewayResult{Status: mapIntentStatus(pi.Status), ExternalID: req.ExternalID, Trace: rawJSON(pi.LastResponse)}, nil
}

func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (payment.GatewayResult, error) {
	if err := g.configured(); err != nil {
		return payment.GatewayResult{}, err
	}

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.ExternalID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := g.refunds.New(params)
	if err != nil {
		return failure(req.ExternalID, err, false)
	}

	result := payment.GatewayResult{Status: payment.StatusRefunded, ExternalID: req.ExternalID, Trace: rawJSON(r.LastResponse)}

	switch r.Status {
	case stripego.RefundStatusFailed, stripego.RefundStatusCanceled:
		result.Status = payment.StatusFailed
	}

	return result, nil
}

func (g *Gateway) configured() error {
	if g.secretKey == "" {
		return fmt.Errorf("%w: stripe secret key is not set", payment.ErrMisconfigured)
	}

	return nil
}

// failure maps a call error. API errors and transport errors become FAILED results,
// card errors on authorization are declines. Context errors are returned so the
// service can tell a timeout from a processor answer.
func failure(externalID string, err error, authorizing bool) (payment.GatewayResult, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return payment.GatewayResult{}, err
	}

	result := payment.GatewayResult{Status: payment.StatusFailed, ExternalID: externalID, Trace: err.Error()}

	var apiErr *stripego.Error
	if !errors.As(err, &apiErr) {
		return result, nil
	}

	if apiErr.Msg != "" {
		result.Trace = apiErr.Msg
	} else if raw := rawJSON(apiErr.LastResponse); raw != "" {
		result.Trace = raw
	}

	if authorizing && apiErr.Type == stripego.ErrorTypeCard {
		result.Status = payment.StatusDeclined
	}

	return result, nil
}

func rawJSON(resp *stripego.APIResponse) string {
	if resp == nil {
		return ""
	}

	return string(resp.RawJSON)
}

func mapIntentStatus(status stripego.PaymentIntentStatus) payment.Status {
	switch status {
	case stripego.PaymentIntentStatusRequiresCapture,
		stripego.PaymentIntentStatusRequiresConfirmation,
		stripego.PaymentIntentStatusRequiresAction,
		stripego.PaymentIntentStatusProcessing:
		return payment.StatusAuthorized
	case stripego.PaymentIntentStatusSucceeded:
		return payment.StatusCaptured
	case stripego.PaymentIntentStatusCanceled:
		return payment.StatusDeclined
	default:
		return payment.StatusFailed
	}
}
