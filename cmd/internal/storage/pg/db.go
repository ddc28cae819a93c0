// Package pg holds the PostgreSQL plumbing shared by every store: the query surface common to
// pools and transactions, identifier quoting, the transaction runner and error classification.
package pg

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "kiln"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
// Stores accept it so the same code runs standalone or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ident returns the quoted, schema-qualified name of table.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// NormalizeSchema trims schema and falls back to DefaultSchema.
func NormalizeSchema(schema string) string {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return DefaultSchema
	}
	return schema
}
