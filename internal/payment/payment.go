package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/payments/internal/money"
)

// Status represents the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusRefunded   Status = "REFUNDED"
	StatusDeclined   Status = "DECLINED"
	StatusFailed     Status = "FAILED"
)

// transitions lists every edge of the state machine. Both the synchronous
// lifecycle calls and webhook reconciliation go through it.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusDeclined, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusFailed},
	StatusCaptured:   {StatusRefunded},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusCaptured, StatusRefunded, StatusDeclined, StatusFailed:
		return true
	}

	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the state machine has an edge from s to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, to := range transitions[s] {
		if to == target {
			return true
		}
	}

	return false
}

// Reached reports whether s is target or a state that can only be entered after target.
func (s Status) Reached(target Status) bool {
	if s == target {
		return true
	}

	return target == StatusCaptured && s == StatusRefunded
}

// Transaction is the single source of truth for a payment.
type Transaction struct {
	ID             uuid.UUID
	IdempotencyKey string
	ExternalID     *string
	Amount         money.Money
	Status         Status
	Metadata       map[string]string
	GatewayTrace   string
	LockedUntil    *time.Time // Set while a capture or refund call is in flight
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransitionTo moves the transaction to target, rejecting edges the state machine does not define.
func (t *Transaction) TransitionTo(target Status) error {
	if !t.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot move transaction %s from %s to %s", ErrInvalidState, t.ID, t.Status, target)
	}

	t.Status = target

	return nil
}

// Locked reports whether a gateway call holds the transaction at time now.
func (t *Transaction) Locked(now time.Time) bool {
	return t.LockedUntil != nil && now.Before(*t.LockedUntil)
}

// Clone returns a deep copy that callers may mutate freely.
func (t *Transaction) Clone() *Transaction {
	c := *t

	if t.ExternalID != nil {
		c.ExternalID = new(*t.ExternalID)
	}

	if t.LockedUntil != nil {
		c.LockedUntil = new(*t.LockedUntil)
	}

	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}

	return &c
}

// ExternalIDValue returns the external id or an empty string.
func (t *Transaction) ExternalIDValue() string {
	if t.ExternalID == nil {
		return ""
	}

	return *t.ExternalID
}
