// Package memstore is an in-memory replication.Repository for tests and
// single-process runs. Transactions are serialized and staged on a copy,
// so a failing transaction leaves no trace.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/byte4ever/mpbridge/replication"
)

// Store holds requests in memory.
type Store struct {
	txMu sync.Mutex // serializes transactions

	mu   sync.RWMutex
	rows map[string]replication.Request
}

// New returns an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]replication.Request)}
}

// InTx runs fn on a staged copy and publishes it when fn succeeds.
func (s *Store) InTx(
	ctx context.Context,
	fn func(ctx context.Context, repo replication.Repository) error,
) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := &table{rows: maps.Clone(s.rows)}
	s.mu.RUnlock()

	if err := fn(ctx, staged); err != nil {
		return err
	}

	s.mu.Lock()
	s.rows = staged.rows
	s.mu.Unlock()

	return nil
}

// Create implements replication.Repository outside a transaction.
func (s *Store) Create(
	ctx context.Context,
	req replication.Request,
) (out replication.Request, err error) {
	err = s.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			out, err = repo.Create(ctx, req)

			return err
		},
	)

	return out, err
}

// FindByID implements replication.Repository.
func (s *Store) FindByID(
	ctx context.Context,
	id string,
) (replication.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return (&table{rows: s.rows}).FindByID(ctx, id)
}

// Update implements replication.Repository outside a transaction.
func (s *Store) Update(ctx context.Context, req replication.Request) error {
	return s.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			return repo.Update(ctx, req)
		},
	)
}

// List implements replication.Repository.
func (s *Store) List(
	ctx context.Context,
	status replication.Status,
	limit int,
) ([]replication.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return (&table{rows: s.rows}).List(ctx, status, limit)
}

type table struct {
	rows map[string]replication.Request
}

func (t *table) Create(
	_ context.Context,
	req replication.Request,
) (replication.Request, error) {
	if existing, ok := t.rows[req.ID]; ok {
		return existing, nil
	}

	now := time.Now().UTC()

	if req.Status == "" {
		req.Status = replication.StatusPending
	}

	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}

	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = now
	}

	t.rows[req.ID] = req

	return req, nil
}

func (t *table) FindByID(
	_ context.Context,
	id string,
) (replication.Request, error) {
	req, ok := t.rows[id]
	if !ok {
		return replication.Request{}, &replication.NotFoundError{
			RequestID: id,
		}
	}

	return req, nil
}

func (t *table) Update(_ context.Context, req replication.Request) error {
	if _, ok := t.rows[req.ID]; !ok {
		return &replication.NotFoundError{RequestID: req.ID}
	}

	t.rows[req.ID] = req

	return nil
}

func (t *table) List(
	_ context.Context,
	status replication.Status,
	limit int,
) ([]replication.Request, error) {
	var out []replication.Request

	for _, req := range t.rows {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}

	slices.SortFunc(out, func(a, b replication.Request) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}
