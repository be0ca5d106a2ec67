package db

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Queryer is the handle repositories run statements on. Both *sqlx.DB and *sqlx.Tx
// satisfy it, so a repository built over either behaves the same.
type Queryer interface {
	sqlx.ExtContext
}

// Store hands out per-request handles over one pool.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db. db must not be nil.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Handle returns the pool for single-statement work.
func (s *Store) Handle() Queryer {
	return s.db
}

// WithTx runs fn inside a transaction on the store's pool.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx Queryer) error) error {
	return WithTx(ctx, s.db, nil, fn)
}

// Ping checks the pool is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx begins a transaction, runs fn with the transactional handle, and commits when fn
// returns nil. Any error or panic rolls back; panics are rethrown.
func WithTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx Queryer) error) (err error) {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
