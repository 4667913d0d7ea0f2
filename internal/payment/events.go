package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source identifies which path produced a state change.
type Source string

const (
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
)

// StateChange describes one persisted status transition.
type StateChange struct {
	TransactionID uuid.UUID
	ExternalID    string
	From          Status
	To            Status
	Source        Source
	Version       int64
	OccurredAt    time.Time
}

// Notifier receives state changes after they are persisted. Delivery is best effort:
// a failing notifier is logged and never undoes the write.
type Notifier interface {
	Notify(ctx context.Context, change StateChange) error
}

// Observer records operational measurements.
type Observer interface {
	ObserveTransition(from, to Status, source Source)
	ObserveGatewayCall(op string, status Status, d time.Duration)
	ObserveWebhook(eventType, outcome string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, StateChange) error { return nil }

type nopObserver struct{}

func (nopObserver) ObserveTransition(Status, Status, Source)          {}
func (nopObserver) ObserveGatewayCall(string, Status, time.Duration) {}
func (nopObserver) ObserveWebhook(string, string)                    {}
