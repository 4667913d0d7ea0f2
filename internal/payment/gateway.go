package payment

import (
	"errors"

	"github.com/MrJamesThe3rd/payments/internal/money"
)

// ErrMisconfigured is returned by gateway adapters that cannot make any call at all,
// for example because no API key was configured. It is the only gateway error the
// lifecycle engine treats as a fault rather than a FAILED outcome.
var ErrMisconfigured = errors.New("gateway misconfigured")

// GatewayResult is the uniform answer of every gateway operation.
type GatewayResult struct {
	Status     Status
	ExternalID string
	Trace      string // Raw processor response, stored for audit only
}

type AuthorizeRequest struct {
	Amount         money.Money
	Metadata       map[string]string
	IdempotencyKey string
}

type CaptureRequest struct {
	ExternalID     string
	Amount         money.Money
	IdempotencyKey string
}

type RefundRequest struct {
	ExternalID     string
	Amount         money.Money
	IdempotencyKey string
}

// authorizeOutcome maps what the processor reported for an authorization onto the
// three statuses a new transaction may take.
func authorizeOutcome(result GatewayResult) Status {
	switch result.Status {
	case StatusAuthorized, StatusCaptured:
		// A processor that captured immediately is stored as authorized and
		// advanced by the payment_intent.succeeded notification.
		if result.ExternalID == "" {
			return StatusFailed
		}

		return StatusAuthorized
	case StatusDeclined:
		return StatusDeclined
	default:
		return StatusFailed
	}
}

func captureOutcome(result GatewayResult) Status {
	switch result.Status {
	case StatusCaptured:
		return StatusCaptured
	case StatusAuthorized:
		// Still processing on the processor side; the webhook finishes it.
		return StatusAuthorized
	default:
		return StatusFailed
	}
}

// refundOutcome keeps a failed refund CAPTURED: the money was not returned and the
// refund may be retried under a new idempotency key.
func refundOutcome(result GatewayResult) Status {
	if result.Status == StatusRefunded {
		return StatusRefunded
	}

	return StatusCaptured
}
