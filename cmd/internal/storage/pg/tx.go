package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ParseIsolation maps a config value to a pgx isolation level.
// Empty selects serializable.
func ParseIsolation(raw string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "serializable":
		return pgx.Serializable, nil
	case "repeatable_read", "repeatable-read":
		return pgx.RepeatableRead, nil
	case "read_committed", "read-committed":
		return pgx.ReadCommitted, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", raw)
	}
}

// InTx runs fn inside a transaction at the given isolation level.
// The transaction commits only when fn returns nil; any error (or a cancelled ctx) rolls it back.
func InTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	if pool == nil {
		return fmt.Errorf("pg: nil pool")
	}
	if iso == "" {
		iso = pgx.Serializable
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
