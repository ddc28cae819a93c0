package inventory

import (
	"context"
	"errors"
	"strings"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/storage/pg"

	"github.com/jackc/pgx/v5"
)

// PostgresStore persists variants in PostgreSQL.
type PostgresStore struct {
	db     pg.DBTX
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "kiln").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore over a pool or a transaction.
func NewPostgresStore(db pg.DBTX, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: pg.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const variantCols = `id, product_id, specification, stock, max_order_quantity, price_cents, created_at, updated_at`

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(
		&v.ID,
		&v.ProductID,
		&v.Specification,
		&v.Stock,
		&v.MaxOrderQuantity,
		&v.PriceCents,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	return v, err
}

// GetVariants loads every existing variant among ids.
func (s *PostgresStore) GetVariants(ctx context.Context, ids []string) (map[string]Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	variants := pg.Ident(s.schema, "catalog_variants")
	rows, err := s.db.Query(ctx,
		`SELECT `+variantCols+` FROM `+variants+` WHERE id = ANY($1::text[])`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Reserve decrements stock when enough is left.
func (s *PostgresStore) Reserve(ctx context.Context, variantID string, qty int) (Variant, error) {
	if err := ctx.Err(); err != nil {
		return Variant{}, err
	}
	if strings.TrimSpace(variantID) == "" || qty <= 0 {
		return Variant{}, ErrInvalidInput
	}

	variants := pg.Ident(s.schema, "catalog_variants")
	out, err := scanVariant(s.db.QueryRow(ctx,
		`UPDATE `+variants+`
		    SET stock = stock - $2,
		        updated_at = now()
		  WHERE id = $1
		    AND stock >= $2
		RETURNING `+variantCols,
		variantID, qty,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, err
	}

	// Distinguish not-found vs insufficient.
	if _, selErr := s.Get(ctx, variantID); selErr != nil {
		return Variant{}, selErr
	}
	return Variant{}, ErrInsufficientStock
}

// Create inserts a variant.
func (s *PostgresStore) Create(ctx context.Context, v Variant) (Variant, error) {
	if err := ctx.Err(); err != nil {
		return Variant{}, err
	}
	if strings.TrimSpace(v.ID) == "" {
		return Variant{}, ErrInvalidInput
	}

	variants := pg.Ident(s.schema, "catalog_variants")
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+variants+` (`+variantCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.ProductID, v.Specification, v.Stock, v.MaxOrderQuantity, v.PriceCents, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return Variant{}, apperr.FromStore("inventory.Create", err)
	}
	return v, nil
}

// Get fetches a variant by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Variant, error) {
	if err := ctx.Err(); err != nil {
		return Variant{}, err
	}
	variants := pg.Ident(s.schema, "catalog_variants")
	out, err := scanVariant(s.db.QueryRow(ctx,
		`SELECT `+variantCols+` FROM `+variants+` WHERE id = $1`,
		strings.TrimSpace(id),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrNotFound
		}
		return Variant{}, err
	}
	return out, nil
}

// List returns every variant ordered by product then id.
func (s *PostgresStore) List(ctx context.Context) ([]Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	variants := pg.Ident(s.schema, "catalog_variants")
	rows, err := s.db.Query(ctx, `SELECT `+variantCols+` FROM `+variants+` ORDER BY product_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Restock adds delta units to a variant.
func (s *PostgresStore) Restock(ctx context.Context, variantID string, delta int) (Variant, error) {
	if err := ctx.Err(); err != nil {
		return Variant{}, err
	}
	if delta <= 0 {
		return Variant{}, ErrInvalidInput
	}
	variants := pg.Ident(s.schema, "catalog_variants")
	out, err := scanVariant(s.db.QueryRow(ctx,
		`UPDATE `+variants+`
		    SET stock = stock + $2,
		        updated_at = now()
		  WHERE id = $1
		RETURNING `+variantCols,
		strings.TrimSpace(variantID), delta,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrNotFound
		}
		return Variant{}, err
	}
	return out, nil
}
