// Package mock is a simulated payment processor for local runs and tests. It declines
// amounts above a limit and fails a share of authorizations at random.
package mock

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const externalIDPrefix = "mock_"

type Config struct {
	FailureRate   float64
	DisableRandom bool
	DeclineAbove  decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		FailureRate:  0.1,
		DeclineAbove: decimal.NewFromInt(1000),
	}
}

type Gateway struct {
	cfg Config

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Gateway)

// WithRand replaces the random source used for simulated failures.
func WithRand(r *rand.Rand) Option {
	return func(g *Gateway) { g.rnd = r }
}

func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *Gateway) Authorize(ctx context.Context, req payment.AuthorizeRequest) (payment.GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return payment.GatewayResult{}, err
	}

	if g.simulateFailure() {
		return payment.GatewayResult{Status: payment.StatusFailed, Trace: "Simulated PSP failure"}, nil
	}

	if req.Amount.GreaterThan(g.cfg.DeclineAbove) {
		return payment.GatewayResult{Status: payment.StatusDeclined, Trace: "Amount exceeds limit"}, nil
	}

	return payment.GatewayResult{
		Status:     payment.StatusAuthorized,
		ExternalID: externalIDPrefix + uuid.NewString(),
		Trace:      "Mock authorized",
	}, nil
}

func (g *Gateway) Capture(ctx context.Context, req payment.CaptureRequest) (payment.GatewayResult, error) {
	return g.settle(ctx, req.ExternalID, payment.StatusCaptured, "Mock captured")
}

func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (payment.GatewayResult, error) {
	return g.settle(ctx, req.ExternalID, payment.StatusRefunded, "Mock refunded")
}

func (g *Gateway) settle(ctx context.Context, externalID string, status payment.Status, trace string) (payment.GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return payment.GatewayResult{}, err
	}

	if !strings.HasPrefix(externalID, externalIDPrefix) {
		return payment.GatewayResult{Status: payment.StatusFailed, ExternalID: externalID, Trace: "Invalid external id"}, nil
	}

	return payment.GatewayResult{Status: status, ExternalID: externalID, Trace: trace}, nil
}

func (g *Gateway) simulateFailure() bool {
	if g.cfg.DisableRandom || g.cfg.FailureRate <= 0 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.rnd.Float64() < g.cfg.FailureRate
}
