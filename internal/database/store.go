package database

import (
	"context"
	"fmt"
)

// Querier is the data access surface used by request handlers.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
	Acquire(ctx context.Context) (*Lease, error)
}

// Store is the facade in front of a Pool. The first call initializes the
// pool; concurrent first calls share that initialization. After that every
// call passes straight through.
type Store struct {
	pool *Pool
}

var _ Querier = (*Store)(nil)

// NewStore wraps pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Initialize brings the pool up, joining any attempt already in flight.
func (s *Store) Initialize(ctx context.Context) error {
	return s.pool.Initialize(ctx)
}

// Query runs sql on a pooled connection.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	if err := s.pool.Initialize(ctx); err != nil {
		return nil, err
	}
	return s.pool.Query(ctx, sql, args...)
}

// Acquire leases a connection. The caller must Release it.
func (s *Store) Acquire(ctx context.Context) (*Lease, error) {
	if err := s.pool.Initialize(ctx); err != nil {
		return nil, err
	}
	return s.pool.Lease(ctx)
}

// InTx runs fn inside a transaction on one leased connection. fn's error
// rolls the transaction back and is returned as is. A connection whose
// transaction could not be closed cleanly is discarded.
func (s *Store) InTx(ctx context.Context, fn func(*Lease) error) error {
	lease, err := s.Acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := lease.Query(ctx, "BEGIN"); err != nil {
		lease.Discard()
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			lease.Discard()
			panic(r)
		}
	}()

	if err := fn(lease); err != nil {
		if _, rbErr := lease.Query(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			lease.Discard()
			return err
		}
		lease.Release()
		return err
	}

	if _, err := lease.Query(ctx, "COMMIT"); err != nil {
		lease.Discard()
		return fmt.Errorf("commit transaction: %w", err)
	}
	lease.Release()
	return nil
}

// Stats reports pool state and occupancy.
func (s *Store) Stats() Stats {
	return s.pool.Stats()
}

// Close shuts the underlying pool down.
func (s *Store) Close() {
	s.pool.Close()
}
