package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrJamesThe3rd/payments/internal/money"
	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const (
	uniqueViolation          = "23505"
	idempotencyKeyConstraint = "transactions_idempotency_key_key"
	externalIDConstraint     = "transactions_external_id_key"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id              UUID PRIMARY KEY,
	idempotency_key VARCHAR(255) NOT NULL UNIQUE,
	external_id     VARCHAR(255) UNIQUE,
	amount          NUMERIC(19, 4) NOT NULL CHECK (amount > 0),
	currency        CHAR(3) NOT NULL,
	status          VARCHAR(16) NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	gateway_trace   TEXT NOT NULL DEFAULT '',
	locked_until    TIMESTAMPTZ,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions (status, created_at DESC);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the transactions table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// Expected column order matches selectColumns.
func scanTransaction(s scanner) (*payment.Transaction, error) {
	var (
		tx         payment.Transaction
		externalID sql.NullString
		status     string
		metadata   []byte
		lockedTill sql.NullTime
	)

	if err := s.Scan(
		&tx.ID, &tx.IdempotencyKey, &externalID, &tx.Amount.Amount, &tx.Amount.Currency,
		&status, &metadata, &tx.GatewayTrace, &lockedTill, &tx.Version,
		&tx.CreatedAt, &tx.UpdatedAt,
	); err != nil {
		return nil, err
	}

	tx.Status = payment.Status(status)

	if externalID.Valid {
		tx.ExternalID = new(externalID.String)
	}

	if lockedTill.Valid {
		tx.LockedUntil = new(lockedTill.Time)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}

	if len(tx.Metadata) == 0 {
		tx.Metadata = nil
	}

	return &tx, nil
}

const selectColumns = `
	id, idempotency_key, external_id, amount, currency,
	status, metadata, gateway_trace, locked_until, version,
	created_at, updated_at
`

func (s *Store) Reserve(ctx context.Context, tx *payment.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (id, idempotency_key, amount, currency, status, metadata, locked_until, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, NOW(), NOW())
		RETURNING version, created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		tx.ID,
		tx.IdempotencyKey,
		tx.Amount.Amount.Round(money.Scale(tx.Amount.Currency)),
		tx.Amount.Currency,
		tx.Status,
		metadata,
		nullTime(tx.LockedUntil),
	).Scan(&tx.Version, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, idempotencyKeyConstraint) {
			return payment.ErrDuplicateKey
		}

		return fmt.Errorf("reserving transaction: %w", err)
	}

	return nil
}

func (s *Store) Release(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM transactions WHERE id = $1 AND status = $2`

	if _, err := s.db.ExecContext(ctx, query, id, payment.StatusPending); err != nil {
		return fmt.Errorf("releasing transaction: %w", err)
	}

	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return s.getOne(ctx, "id", id)
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Transaction, error) {
	return s.getOne(ctx, "idempotency_key", key)
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	return s.getOne(ctx, "external_id", externalID)
}

// column is always one of the fixed names above, never caller input.
func (s *Store) getOne(ctx context.Context, column string, value any) (*payment.Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM transactions WHERE ` + column + ` = $1`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting transaction by %s: %w", column, err)
	}

	return tx, nil
}

func (s *Store) List(ctx context.Context, filter payment.ListFilter) ([]*payment.Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM transactions`

	var args []any

	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)

		args = append(args, *filter.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)

		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*payment.Transaction

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}

		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}

	return txs, nil
}

// Update writes only the fields the lifecycle may change. The version predicate turns
// a concurrent writer into ErrVersionConflict instead of a lost update.
func (s *Store) Update(ctx context.Context, tx *payment.Transaction) error {
	query := `
		UPDATE transactions
		SET external_id = $1, status = $2, gateway_trace = $3, locked_until = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at
	`

	var (
		version   int64
		updatedAt time.Time
	)

	err := s.db.QueryRowContext(ctx, query,
		tx.ExternalID,
		tx.Status,
		tx.GatewayTrace,
		nullTime(tx.LockedUntil),
		tx.ID,
		tx.Version,
	).Scan(&version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.missOrConflict(ctx, tx.ID)
		}

		if isUniqueViolation(err, externalIDConstraint) {
			return fmt.Errorf("external id %q already belongs to another transaction", tx.ExternalIDValue())
		}

		return fmt.Errorf("updating transaction: %w", err)
	}

	tx.Version = version
	tx.UpdatedAt = updatedAt

	return nil
}

func (s *Store) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking transaction: %w", err)
	}

	if !exists {
		return payment.ErrNotFound
	}

	return payment.ErrVersionConflict
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	return b, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
