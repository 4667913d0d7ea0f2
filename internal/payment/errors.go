package payment

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("transaction not found")
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict means another request is mutating the same transaction.
	ErrConflict = errors.New("transaction is being modified by another request")

	// Store level errors. The service resolves both and never returns them.
	ErrDuplicateKey    = errors.New("idempotency key already exists")
	ErrVersionConflict = errors.New("transaction version changed")
)
