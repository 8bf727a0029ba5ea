package tx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Runner opens transactions for services. Stores pick the transaction up from
// context, so one callback spans every store touched inside it.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PgxRunner runs callbacks inside a pgx transaction.
type PgxRunner struct {
	pool *pgxpool.Pool
}

func NewPgxRunner(pool *pgxpool.Pool) *PgxRunner {
	return &PgxRunner{pool: pool}
}

func (r *PgxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(t pgx.Tx) error {
		return fn(WithTx(ctx, t))
	})
}

// NoopRunner runs the callback directly. Memory stores mutate in place, so
// there is nothing to roll back; it exists to keep service wiring uniform in
// tests.
type NoopRunner struct{}

func (NoopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("tx: nil callback")
	}
	return fn(ctx)
}
