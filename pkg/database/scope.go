package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories use. Both a pooled
// connection and a transaction satisfy it, so repository code is identical
// inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps the connection a group of repository calls share. When the
// scope was opened by WithTx, Conn is the transaction, so every repository
// call inside the scope commits or rolls back together.
type Scope struct {
	Conn Querier
	inTx bool
}

type contextKey string

// ScopeKey is the context key for storing the scoped database connection.
const ScopeKey contextKey = "dbScope"

// GetScope retrieves the scoped database connection from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok
}

// SetScope stores the scoped database connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// TxRunner runs a function inside a database transaction scope. Services
// depend on this interface rather than on *DB so unit tests can substitute a
// pass-through runner.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ TxRunner = (*DB)(nil)

// WithScope returns a context carrying a plain pooled-connection scope for
// read paths that need no transaction. The cleanup function must be called
// when the scope is no longer needed.
func (db *DB) WithScope(ctx context.Context) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	scopeCtx := SetScope(ctx, &Scope{Conn: conn})
	return scopeCtx, func() { conn.Release() }, nil
}

// WithTx begins a transaction, stores it as the scope in the context passed
// to fn, and commits when fn returns nil or rolls back when it returns an
// error. If the context already carries a transaction scope, fn runs inside
// a savepoint on the existing transaction, so service methods compose and a
// failed inner attempt leaves no partial writes behind in the outer
// transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if scope, ok := GetScope(ctx); ok && scope.inTx {
		return withSavepoint(ctx, scope, fn)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := SetScope(ctx, &Scope{Conn: tx, inTx: true})
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withSavepoint nests fn inside the transaction already carried by scope.
// pgx maps a Begin on an open transaction to SAVEPOINT, so an error from fn
// rolls back only fn's writes while the outer transaction continues.
func withSavepoint(ctx context.Context, scope *Scope, fn func(ctx context.Context) error) error {
	outer, ok := scope.Conn.(pgx.Tx)
	if !ok {
		return fn(ctx)
	}

	nested, err := outer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	nestedCtx := SetScope(ctx, &Scope{Conn: nested, inTx: true})
	if err := fn(nestedCtx); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("savepoint rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}
