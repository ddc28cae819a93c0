package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"kiln/cmd/internal/storage/pg"

	"github.com/jackc/pgx/v5"
)

// PostgresStore persists verification codes in PostgreSQL.
type PostgresStore struct {
	db     pg.DBTX
	schema string
}

// NewPostgresStore constructs a PostgresStore. An empty schema selects "kiln".
func NewPostgresStore(db pg.DBTX, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{db: db, schema: pg.NormalizeSchema(schema)}, nil
}

// Put upserts the code for r.Email, resetting attempts and consumption.
func (s *PostgresStore) Put(ctx context.Context, r Record) error {
	if strings.TrimSpace(r.Email) == "" || r.CodeHash == "" {
		return ErrInvalidInput
	}
	codes := pg.Ident(s.schema, "verification_codes")
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+codes+` (email, code_hash, attempts, expires_at, consumed_at, created_at)
		 VALUES ($1, $2, 0, $3, NULL, $4)
		 ON CONFLICT (email) DO UPDATE
		    SET code_hash = EXCLUDED.code_hash,
		        attempts = 0,
		        expires_at = EXCLUDED.expires_at,
		        consumed_at = NULL,
		        created_at = EXCLUDED.created_at`,
		r.Email, r.CodeHash, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

// Get fetches the code stored for email.
func (s *PostgresStore) Get(ctx context.Context, email string) (Record, error) {
	codes := pg.Ident(s.schema, "verification_codes")
	return scanRecord(s.db.QueryRow(ctx,
		`SELECT email, code_hash, attempts, expires_at, consumed_at, created_at FROM `+codes+` WHERE email = $1`,
		email,
	))
}

// RecordFailure increments the attempt counter.
func (s *PostgresStore) RecordFailure(ctx context.Context, email string) (Record, error) {
	codes := pg.Ident(s.schema, "verification_codes")
	return scanRecord(s.db.QueryRow(ctx,
		`UPDATE `+codes+` SET attempts = attempts + 1 WHERE email = $1
		 RETURNING email, code_hash, attempts, expires_at, consumed_at, created_at`,
		email,
	))
}

// Consume marks the code consumed when it is still the live, unconsumed one.
func (s *PostgresStore) Consume(ctx context.Context, email, codeHash string, at time.Time) error {
	codes := pg.Ident(s.schema, "verification_codes")
	tag, err := s.db.Exec(ctx,
		`UPDATE `+codes+` SET consumed_at = $3 WHERE email = $1 AND code_hash = $2 AND consumed_at IS NULL`,
		email, codeHash, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.Email, &r.CodeHash, &r.Attempts, &r.ExpiresAt, &r.ConsumedAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}
