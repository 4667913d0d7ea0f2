// Package memstore is an in-memory payment.Repository. It enforces the same unique
// keys and version checks as the Postgres store and backs tests and local runs
// without a database.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

type Store struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*payment.Transaction
	byKey map[string]uuid.UUID
	byExt map[string]uuid.UUID
	now   func() time.Time
}

func New() *Store {
	return &Store{
		byID:  make(map[uuid.UUID]*payment.Transaction),
		byKey: make(map[string]uuid.UUID),
		byExt: make(map[string]uuid.UUID),
		now:   time.Now,
	}
}

func (s *Store) Reserve(_ context.Context, tx *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byKey[tx.IdempotencyKey]; taken {
		return payment.ErrDuplicateKey
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	now := s.now()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now

	s.byID[tx.ID] = tx.Clone()
	s.byKey[tx.IdempotencyKey] = tx.ID

	return nil
}

func (s *Store) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok || stored.Status != payment.StatusPending {
		return nil
	}

	delete(s.byKey, stored.IdempotencyKey)
	delete(s.byID, id)

	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(id)
}

func (s *Store) GetByIdempotencyKey(_ context.Context, key string) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, payment.ErrNotFound
	}

	return s.get(id)
}

func (s *Store) GetByExternalID(_ context.Context, externalID string) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExt[externalID]
	if !ok {
		return nil, payment.ErrNotFound
	}

	return s.get(id)
}

func (s *Store) List(_ context.Context, filter payment.ListFilter) ([]*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]*payment.Transaction, 0, len(s.byID))

	for _, tx := range s.byID {
		if filter.Status != nil && tx.Status != *filter.Status {
			continue
		}

		txs = append(txs, tx.Clone())
	}

	slices.SortFunc(txs, func(a, b *payment.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if filter.Limit > 0 && len(txs) > filter.Limit {
		txs = txs[:filter.Limit]
	}

	return txs, nil
}

func (s *Store) Update(_ context.Context, tx *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[tx.ID]
	if !ok {
		return payment.ErrNotFound
	}

	if stored.Version != tx.Version {
		return payment.ErrVersionConflict
	}

	ext := tx.ExternalIDValue()
	if ext != "" {
		if owner, taken := s.byExt[ext]; taken && owner != tx.ID {
			return fmt.Errorf("external id %q already belongs to transaction %s", ext, owner)
		}

		s.byExt[ext] = tx.ID
	}

	// Amount, currency, key and metadata are immutable and never copied back.
	incoming := tx.Clone()
	next := stored.Clone()
	next.ExternalID = incoming.ExternalID
	next.Status = incoming.Status
	next.GatewayTrace = incoming.GatewayTrace
	next.LockedUntil = incoming.LockedUntil
	next.Version = stored.Version + 1
	next.UpdatedAt = s.now()

	s.byID[tx.ID] = next

	tx.Version = next.Version
	tx.UpdatedAt = next.UpdatedAt

	return nil
}

func (s *Store) get(id uuid.UUID) (*payment.Transaction, error) {
	tx, ok := s.byID[id]
	if !ok {
		return nil, payment.ErrNotFound
	}

	return tx.Clone(), nil
}
