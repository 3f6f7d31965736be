package db

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

type contextKey string

const DBConnKey contextKey = "db_conn"

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var snapshotTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// WithConn stores q in ctx so repositories issue their queries through it.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, DBConnKey, q)
}

// ConnFromContext retrieves the request-scoped connection or transaction, or
// nil when none is bound.
func ConnFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(DBConnKey).(Querier)
	return q
}

// WithSnapshot runs fn inside a read-only REPEATABLE READ transaction so every
// read fn issues sees the same database snapshot. The transaction is always
// rolled back.
func WithSnapshot(ctx context.Context, db TxBeginner, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, snapshotTxOptions)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(WithConn(ctx, tx))
}

// SnapshotMiddleware binds a snapshot transaction to each request. Handlers
// that fan out across goroutines must not run under it.
func SnapshotMiddleware(db TxBeginner) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			tx, err := db.BeginTx(ctx, snapshotTxOptions)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer func() { _ = tx.Rollback(ctx) }()

			c.SetRequest(c.Request().WithContext(WithConn(ctx, tx)))
			return next(c)
		}
	}
}
