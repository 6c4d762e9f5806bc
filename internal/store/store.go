package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/db"
)

// Store owns the writer/reader pools for the kernel database. Repositories
// are handed the pools at construction and initialize their own tables, so
// a fully constructed kernel implies a migrated schema.
type Store struct {
	pool *db.Pool
}

// Open opens (creating if necessary) the SQLite database at path and
// verifies both pools with a ping.
func Open(path string) (*Store, error) {
	pool, err := db.OpenSQLitePool(path)
	if err != nil {
		return nil, UnavailableError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Writer().PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, UnavailableError(err)
	}
	if err := pool.Reader().PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, UnavailableError(err)
	}

	return &Store{pool: pool}, nil
}

// Writer returns the single-connection write pool.
func (s *Store) Writer() *sqlx.DB { return s.pool.Writer() }

// Reader returns the concurrent read-only pool.
func (s *Store) Reader() *sqlx.DB { return s.pool.Reader() }

// Close closes both pools.
func (s *Store) Close() error { return s.pool.Close() }
