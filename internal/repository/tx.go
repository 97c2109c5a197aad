package repository

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

type txKey struct{}

// dbtx is the query surface shared by *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// executor returns the transaction carried by ctx, falling back to db.
func executor(ctx context.Context, db *sqlx.DB) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok && tx != nil
}

// TxManager runs units of work inside a transaction injected into the context.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager constructs a transaction manager.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTransaction executes fn within a transaction. A context that already
// carries a transaction joins it.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
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
		if cerr := tx.Commit(); cerr != nil {
			// An expired context rolls the tx back under us; report the deadline.
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("commit transaction: %w: %w", ctxErr, cerr)
				return
			}
			err = fmt.Errorf("commit transaction: %w", cerr)
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	return err
}

// WithinSlotLock runs fn in a transaction holding the slot's advisory lock.
// The lock is released when the transaction commits or rolls back, so
// callers for the same slot are serialized and other slots are unaffected.
func (m *TxManager) WithinSlotLock(ctx context.Context, slot models.SlotKey, fn func(ctx context.Context) error) error {
	return m.WithinTransaction(ctx, func(txCtx context.Context) error {
		if _, err := executor(txCtx, m.db).ExecContext(txCtx, `SELECT pg_advisory_xact_lock($1)`, SlotLockKey(slot)); err != nil {
			return fmt.Errorf("acquire slot lock %s: %w", slot, err)
		}
		return fn(txCtx)
	})
}

// SlotLockKey derives the advisory lock id for a slot.
func SlotLockKey(slot models.SlotKey) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "transport-slot:%d:%s", slot.ScheduleID, slot.Date)
	return int64(h.Sum64())
}
