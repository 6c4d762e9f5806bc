package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// WithTx runs fn inside a transaction on the writer pool. The transaction is
// rolled back when fn returns an error or panics; panics are re-raised after
// rollback. Repositories use this for every multi-statement mutation so the
// record change and its audit log land atomically.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return UnavailableError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return UnavailableError(err)
	}
	return nil
}

var savepointSeq uint64

// WithSavepoint is the nested form of WithTx: it runs fn under a savepoint on
// an already-open transaction, so a failing step rolls back alone without
// abandoning the outer work. SQLite has a single writer, so code already
// inside WithTx must nest through here rather than open a second transaction.
func WithSavepoint(ctx context.Context, tx *sqlx.Tx, fn func(tx *sqlx.Tx) error) error {
	name := fmt.Sprintf("sp_%d", atomic.AddUint64(&savepointSeq, 1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return UnavailableError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO "+name)
			_, _ = tx.ExecContext(ctx, "RELEASE "+name)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		// ROLLBACK TO rewinds but keeps the savepoint; RELEASE discards it.
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		_, _ = tx.ExecContext(ctx, "RELEASE "+name)
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return UnavailableError(err)
	}
	return nil
}
