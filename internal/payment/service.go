package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/money"
)

//go:generate mockgen -source=service.go -destination=service_mock.go -package=payment
type Repository interface {
	// Reserve inserts tx as a PENDING row. It returns ErrDuplicateKey when the
	// idempotency key is already taken.
	Reserve(ctx context.Context, tx *Transaction) error
	// Release removes a PENDING reservation whose gateway call never produced an outcome.
	Release(ctx context.Context, id uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]*Transaction, error)

	// Update persists the mutable fields of tx if the stored version still equals
	// tx.Version, then bumps tx.Version and tx.UpdatedAt. A stale version yields
	// ErrVersionConflict.
	Update(ctx context.Context, tx *Transaction) error
}

type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (GatewayResult, error)
	Capture(ctx context.Context, req CaptureRequest) (GatewayResult, error)
	Refund(ctx context.Context, req RefundRequest) (GatewayResult, error)
}

const (
	defaultGatewayTimeout = 30 * time.Second
	defaultLeaseTTL       = 2 * time.Minute
	maxIdempotencyKeyLen  = 255
	defaultListLimit      = 50
	maxListLimit          = 500

	maxSaveAttempts = 3
	saveRetryDelay  = 50 * time.Millisecond
)

type Service struct {
	repo     Repository
	gateway  Gateway
	logger   *zap.Logger
	notifier Notifier
	observer Observer
	tracer   trace.Tracer

	gatewayTimeout time.Duration
	leaseTTL       time.Duration
	now            func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithGatewayTimeout bounds every gateway call. A call that exceeds it is recorded as FAILED.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) { s.gatewayTimeout = d }
}

// WithLeaseTTL sets how long a capture or refund holds a transaction before another
// request may take it over. A PENDING reservation older than this is treated as abandoned.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) { s.leaseTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, gateway Gateway, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		gateway:        gateway,
		logger:         logger,
		notifier:       nopNotifier{},
		observer:       nopObserver{},
		tracer:         otel.Tracer("github.com/MrJamesThe3rd/payments/internal/payment"),
		gatewayTimeout: defaultGatewayTimeout,
		leaseTTL:       defaultLeaseTTL,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type AuthorizeParams struct {
	Amount         money.Money
	Metadata       map[string]string
	IdempotencyKey string
}

func (p AuthorizeParams) validate() error {
	key := strings.TrimSpace(p.IdempotencyKey)
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}

	if len(key) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key longer than %d characters", ErrValidation, maxIdempotencyKeyLen)
	}

	if !p.Amount.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	if len(p.Amount.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO-4217 code", ErrValidation)
	}

	return nil
}

type ListFilter struct {
	Status *Status
	Limit  int
}

// Authorize creates the transaction for an idempotency key and authorizes it with the
// gateway. Repeated calls with the same key return the stored transaction and never
// reach the gateway again.
func (s *Service) Authorize(ctx context.Context, params AuthorizeParams) (*Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	params.IdempotencyKey = strings.TrimSpace(params.IdempotencyKey)

	existing, err := s.repo.GetByIdempotencyKey(ctx, params.IdempotencyKey)
	if err == nil {
		return s.resolvePending(ctx, existing)
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}

	// The lease covers the gateway call. A PENDING row whose lease ran out never
	// got its outcome stored.
	tx := &Transaction{
		ID:             uuid.New(),
		IdempotencyKey: params.IdempotencyKey,
		Amount:         params.Amount,
		Status:         StatusPending,
		Metadata:       params.Metadata,
		LockedUntil:    new(s.now().Add(s.leaseTTL)),
	}

	if err := s.repo.Reserve(ctx, tx); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, fmt.Errorf("reserving idempotency key: %w", err)
		}

		// A concurrent request reserved the key first; its row is the answer.
		winner, err := s.repo.GetByIdempotencyKey(ctx, params.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("reading reserved transaction: %w", err)
		}

		return s.resolvePending(ctx, winner)
	}

	// The reservation exists now, so the outcome must be stored even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	result, err := s.callGateway(ctx, "authorize", func(ctx context.Context) (GatewayResult, error) {
		return s.gateway.Authorize(ctx, AuthorizeRequest{
			Amount:         tx.Amount,
			Metadata:       tx.Metadata,
			IdempotencyKey: tx.IdempotencyKey,
		})
	})
	if err != nil {
		if relErr := s.repo.Release(ctx, tx.ID); relErr != nil {
			s.logger.Error("failed to release reservation",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(relErr),
			)
		}

		return nil, fmt.Errorf("authorizing with gateway: %w", err)
	}

	from := tx.Status
	if err := tx.TransitionTo(authorizeOutcome(result)); err != nil {
		return nil, err
	}

	if tx.Status == StatusAuthorized {
		tx.ExternalID = new(result.ExternalID)
	}

	tx.GatewayTrace = result.Trace
	tx.LockedUntil = nil

	if err := s.save(ctx, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// The lease expired and a retry already failed the row.
			s.logger.Warn("authorization outcome arrived after the reservation was abandoned",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("external_id", tx.ExternalIDValue()),
				zap.String("status", string(tx.Status)),
			)

			return s.repo.GetByID(ctx, tx.ID)
		}

		return nil, fmt.Errorf("saving authorization: %w", err)
	}

	s.recordTransition(ctx, tx, from, SourceAPI)

	return tx, nil
}

// save writes tx, retrying store errors other than a version conflict.
func (s *Service) save(ctx context.Context, tx *Transaction) error {
	var err error

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		err = s.repo.Update(ctx, tx)
		if err == nil || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
			return err
		}

		if attempt < maxSaveAttempts {
			s.logger.Warn("retrying transaction write",
				zap.String("transaction_id", tx.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			time.Sleep(time.Duration(attempt) * saveRetryDelay)
		}
	}

	return err
}

// resolvePending returns tx unless it is a PENDING reservation whose lease ran out.
// Such a row lost its outcome, so it is moved to FAILED.
func (s *Service) resolvePending(ctx context.Context, tx *Transaction) (*Transaction, error) {
	now := s.now()
	if tx.Status != StatusPending || tx.Locked(now) {
		return tx, nil
	}

	from := tx.Status
	if err := tx.TransitionTo(StatusFailed); err != nil {
		return nil, err
	}

	tx.GatewayTrace = fmt.Sprintf("authorization abandoned: no outcome recorded before %s", now.UTC().Format(time.RFC3339))
	tx.LockedUntil = nil

	if err := s.repo.Update(ctx, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return s.repo.GetByID(ctx, tx.ID)
		}

		return nil, fmt.Errorf("failing abandoned authorization: %w", err)
	}

	s.recordTransition(ctx, tx, from, SourceAPI)

	return tx, nil
}

// Capture settles an AUTHORIZED transaction.
func (s *Service) Capture(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.settle(ctx, id, settlement{
		name:     "capture",
		verb:     "captured",
		requires: StatusAuthorized,
		outcome:  captureOutcome,
		call: func(ctx context.Context, tx *Transaction) (GatewayResult, error) {
			return s.gateway.Capture(ctx, CaptureRequest{
				ExternalID:     tx.ExternalIDValue(),
				Amount:         tx.Amount,
				IdempotencyKey: tx.IdempotencyKey + ":capture",
			})
		},
	})
}

// Refund returns the money of a CAPTURED transaction.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.settle(ctx, id, settlement{
		name:     "refund",
		verb:     "refunded",
		requires: StatusCaptured,
		outcome:  refundOutcome,
		call: func(ctx context.Context, tx *Transaction) (GatewayResult, error) {
			return s.gateway.Refund(ctx, RefundRequest{
				ExternalID:     tx.ExternalIDValue(),
				Amount:         tx.Amount,
				// A failed refund stays CAPTURED and may be retried; each attempt
				// runs at a new version, so the processor sees a fresh request.
				IdempotencyKey: fmt.Sprintf("%s:refund:%d", tx.IdempotencyKey, tx.Version),
			})
		},
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Transaction, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *filter.Status)
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}

	filter.Limit = min(filter.Limit, maxListLimit)

	return s.repo.List(ctx, filter)
}

type settlement struct {
	name     string
	verb     string
	requires Status
	outcome  func(GatewayResult) Status
	call     func(ctx context.Context, tx *Transaction) (GatewayResult, error)
}

// settle runs a capture or refund: check the precondition, take the lease with a
// version-checked write, call the gateway, store the outcome.
func (s *Service) settle(ctx context.Context, id uuid.UUID, op settlement) (*Transaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != op.requires {
		return nil, fmt.Errorf("%w: only %s payments can be %s", ErrInvalidState, op.requires, op.verb)
	}

	now := s.now()
	if tx.Locked(now) {
		return nil, fmt.Errorf("%w: %s already in progress", ErrConflict, op.name)
	}

	tx.LockedUntil = new(now.Add(s.leaseTTL))
	if err := s.repo.Update(ctx, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %s lost the race for transaction %s", ErrConflict, op.name, id)
		}

		return nil, fmt.Errorf("locking transaction: %w", err)
	}

	ctx = context.WithoutCancel(ctx)

	result, err := s.callGateway(ctx, op.name, func(ctx context.Context) (GatewayResult, error) {
		return op.call(ctx, tx)
	})
	if err != nil {
		s.unlock(ctx, tx)
		return nil, fmt.Errorf("%s with gateway: %w", op.name, err)
	}

	from := tx.Status

	target := op.outcome(result)
	if target != tx.Status {
		if err := tx.TransitionTo(target); err != nil {
			s.unlock(ctx, tx)
			return nil, err
		}
	}

	tx.GatewayTrace = result.Trace
	tx.LockedUntil = nil

	if err := s.repo.Update(ctx, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return s.converged(ctx, id, target)
		}

		return nil, fmt.Errorf("saving %s: %w", op.name, err)
	}

	if from != tx.Status {
		s.recordTransition(ctx, tx, from, SourceAPI)
	}

	return tx, nil
}

// converged handles a lost final write: a webhook may already have moved the
// transaction to where the gateway call took it.
func (s *Service) converged(ctx context.Context, id uuid.UUID, target Status) (*Transaction, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status.Reached(target) {
		return current, nil
	}

	return nil, fmt.Errorf("%w: transaction %s moved to %s concurrently", ErrConflict, id, current.Status)
}

func (s *Service) unlock(ctx context.Context, tx *Transaction) {
	tx.LockedUntil = nil

	if err := s.repo.Update(ctx, tx); err != nil {
		s.logger.Warn("failed to release transaction lock",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
	}
}

// callGateway runs fn under the gateway timeout. Deadline and cancellation errors become a
// FAILED result; any other error is an unexpected fault and is returned.
func (s *Service) callGateway(ctx context.Context, op string, fn func(ctx context.Context) (GatewayResult, error)) (GatewayResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "gateway."+op)
	defer span.End()

	start := s.now()
	result, err := fn(ctx)

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		result, err = GatewayResult{Status: StatusFailed, Trace: "gateway call timed out: " + err.Error()}, nil
	}

	if err != nil {
		span.RecordError(err)
		s.logger.Error("gateway call aborted", zap.String("operation", op), zap.Error(err))

		return GatewayResult{}, err
	}

	span.SetAttributes(
		attribute.String("gateway.status", string(result.Status)),
		attribute.String("gateway.external_id", result.ExternalID),
	)
	s.observer.ObserveGatewayCall(op, result.Status, s.now().Sub(start))

	return result, nil
}

func (s *Service) recordTransition(ctx context.Context, tx *Transaction, from Status, source Source) {
	s.logger.Info("payment state transition",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("external_id", tx.ExternalIDValue()),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(tx.Status)),
		zap.String("source", string(source)),
	)

	s.observer.ObserveTransition(from, tx.Status, source)

	change := StateChange{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalIDValue(),
		From:          from,
		To:            tx.Status,
		Source:        source,
		Version:       tx.Version,
		OccurredAt:    tx.UpdatedAt,
	}

	if err := s.notifier.Notify(ctx, change); err != nil {
		s.logger.Warn("failed to publish state change",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
	}
}
