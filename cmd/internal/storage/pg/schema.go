package pg

import (
	"context"
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// SchemaSQL returns the DDL for schema with every table reference qualified.
func SchemaSQL(schema string) string {
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{NormalizeSchema(schema)}.Sanitize())
}

// Apply creates schema (if missing) and every table the stores use.
// It is idempotent and used by integration tests and KILN_DB_BOOTSTRAP; production
// deployments apply the same DDL through their migration tooling.
func Apply(ctx context.Context, db DBTX, schema string) error {
	schema = NormalizeSchema(schema)
	if _, err := db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return err
	}
	_, err := db.Exec(ctx, SchemaSQL(schema))
	return err
}
