package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Processor event types the reconciler acts on.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
)

var notificationTargets = map[string]Status{
	EventPaymentSucceeded: StatusCaptured,
	EventPaymentFailed:    StatusFailed,
	EventChargeRefunded:   StatusRefunded,
}

const maxReconcileAttempts = 3

// Handles reports whether Reconcile acts on events of the given type.
func Handles(eventType string) bool {
	_, ok := notificationTargets[eventType]
	return ok
}

// Notification is a verified processor event reduced to what reconciliation needs.
type Notification struct {
	EventID    string
	Type       string
	ExternalID string
}

// Outcome describes what reconciling a notification did.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
)

// Reconcile applies a processor notification to the transaction it refers to.
// Delivering the same notification again finds the target status already reached and
// writes nothing, so replays and reordering of forward-only events are harmless.
func (s *Service) Reconcile(ctx context.Context, n Notification) (outcome Outcome, err error) {
	defer func() {
		if err != nil {
			outcome = OutcomeRejected
		}

		s.observer.ObserveWebhook(n.Type, string(outcome))
	}()

	target, ok := notificationTargets[n.Type]
	if !ok {
		s.logger.Debug("ignoring unhandled event", zap.String("event_id", n.EventID), zap.String("type", n.Type))
		return OutcomeIgnored, nil
	}

	for attempt := 1; ; attempt++ {
		tx, err := s.repo.GetByExternalID(ctx, n.ExternalID)
		if err != nil {
			return "", fmt.Errorf("reconciling %s for %q: %w", n.Type, n.ExternalID, err)
		}

		if tx.Status.Reached(target) {
			return OutcomeUnchanged, nil
		}

		if tx.Status.Terminal() {
			return "", fmt.Errorf("%w: transaction %s is already %s", ErrInvalidState, tx.ID, tx.Status)
		}

		from := tx.Status
		if err := tx.TransitionTo(target); err != nil {
			return "", err
		}

		tx.LockedUntil = nil

		err = s.repo.Update(ctx, tx)
		if err == nil {
			s.recordTransition(ctx, tx, from, SourceWebhook)
			return OutcomeApplied, nil
		}

		if !errors.Is(err, ErrVersionConflict) {
			return "", fmt.Errorf("saving reconciliation for %q: %w", n.ExternalID, err)
		}

		if attempt == maxReconcileAttempts {
			return "", fmt.Errorf("%w: reconciling %q", ErrConflict, n.ExternalID)
		}

		s.logger.Debug("retrying reconciliation after concurrent update",
			zap.String("external_id", n.ExternalID),
			zap.Int("attempt", attempt),
		)
	}
}
