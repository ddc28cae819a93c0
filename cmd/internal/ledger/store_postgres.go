package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/storage/pg"

	"github.com/jackc/pgx/v5"
)

// PostgresStore persists credentials and batches in PostgreSQL.
// It runs on whatever DBTX it is given: a pool for administration, a pgx.Tx during admission.
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

// NewPostgresStore constructs a PostgresStore.
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

// credentialCols expects the credential table aliased as c and the batch table as b.
const credentialCols = `c.id, c.code, c.batch_id, c.max_orders, c.max_items_per_order,
		       c.allowed_variant_ids, c.status, c.used_orders, c.created_at, b.deadline`

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		out    Credential
		status string
	)
	err := row.Scan(
		&out.ID,
		&out.Code,
		&out.BatchID,
		&out.MaxOrders,
		&out.MaxItemsPerOrder,
		&out.AllowedVariantIDs,
		&status,
		&out.UsedOrders,
		&out.CreatedAt,
		&out.BatchDeadline,
	)
	out.Status = CredentialStatus(status)
	return out, err
}

// GetByCode fetches a credential by its code.
func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Credential, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Credential{}, ErrInvalidInput
	}
	return s.getOne(ctx, `c.code = $1`, code)
}

// GetByID fetches a credential by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Credential, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Credential{}, ErrInvalidInput
	}
	return s.getOne(ctx, `c.id = $1`, id)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	creds := pg.Ident(s.schema, "invitation_credentials")
	batches := pg.Ident(s.schema, "collection_batches")

	out, err := scanCredential(s.db.QueryRow(ctx,
		`SELECT `+credentialCols+`
		   FROM `+creds+` c
		   JOIN `+batches+` b ON b.id = c.batch_id
		  WHERE `+where,
		arg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, err
	}
	return out, nil
}

// ConsumeOrderSlot increments used_orders when a slot is left.
func (s *PostgresStore) ConsumeOrderSlot(ctx context.Context, credentialID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return Credential{}, ErrInvalidInput
	}

	creds := pg.Ident(s.schema, "invitation_credentials")
	batches := pg.Ident(s.schema, "collection_batches")
	out, err := scanCredential(s.db.QueryRow(ctx,
		`UPDATE `+creds+` c
		    SET used_orders = c.used_orders + 1
		   FROM `+batches+` b
		  WHERE c.id = $1
		    AND b.id = c.batch_id
		    AND c.used_orders < c.max_orders
		RETURNING `+credentialCols,
		credentialID,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, err
	}

	// Distinguish not-found vs exhausted.
	if _, selErr := s.GetByID(ctx, credentialID); selErr != nil {
		return Credential{}, selErr
	}
	return Credential{}, ErrQuotaExceeded
}

// CreateBatch inserts a collection batch.
func (s *PostgresStore) CreateBatch(ctx context.Context, b Batch) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Name) == "" || b.Deadline.IsZero() {
		return Batch{}, ErrInvalidInput
	}
	if b.Status == "" {
		b.Status = BatchActive
	}

	batches := pg.Ident(s.schema, "collection_batches")
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+batches+` (id, name, deadline, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Name, b.Deadline, string(b.Status), b.CreatedAt,
	)
	if err != nil {
		return Batch{}, apperr.FromStore("ledger.CreateBatch", err)
	}
	return b, nil
}

// GetBatch fetches a batch by id.
func (s *PostgresStore) GetBatch(ctx context.Context, id string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	batches := pg.Ident(s.schema, "collection_batches")

	var (
		out    Batch
		status string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, name, deadline, status, created_at FROM `+batches+` WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&out.ID, &out.Name, &out.Deadline, &status, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	out.Status = BatchStatus(status)
	return out, nil
}

// CreateCredentials inserts creds in a single statement, so a duplicate code rejects the whole set.
func (s *PostgresStore) CreateCredentials(ctx context.Context, creds []Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(creds) == 0 {
		return ErrInvalidInput
	}

	var (
		idList      = make([]string, 0, len(creds))
		codes       = make([]string, 0, len(creds))
		batchIDs    = make([]string, 0, len(creds))
		maxOrders   = make([]int32, 0, len(creds))
		maxItems    = make([]int32, 0, len(creds))
		createdAts  = make([]time.Time, 0, len(creds))
		allowedJoin = make([]string, 0, len(creds))
	)
	for _, c := range creds {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Code) == "" || c.MaxOrders <= 0 || c.MaxItemsPerOrder <= 0 {
			return ErrInvalidInput
		}
		idList = append(idList, c.ID)
		codes = append(codes, c.Code)
		batchIDs = append(batchIDs, c.BatchID)
		maxOrders = append(maxOrders, int32(c.MaxOrders))
		maxItems = append(maxItems, int32(c.MaxItemsPerOrder))
		createdAts = append(createdAts, c.CreatedAt)
		allowedJoin = append(allowedJoin, strings.Join(c.AllowedVariantIDs, ","))
	}

	table := pg.Ident(s.schema, "invitation_credentials")
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+table+` (
		     id, code, batch_id, max_orders, max_items_per_order, allowed_variant_ids, status, used_orders, created_at
		   )
		 SELECT t.id, t.code, t.batch_id, t.max_orders, t.max_items,
		        CASE WHEN t.allowed = '' THEN '{}'::text[] ELSE string_to_array(t.allowed, ',') END,
		        'active', 0, t.created_at
		   FROM unnest($1::text[], $2::text[], $3::text[], $4::int[], $5::int[], $6::text[], $7::timestamptz[])
		        AS t(id, code, batch_id, max_orders, max_items, allowed, created_at)`,
		idList, codes, batchIDs, maxOrders, maxItems, allowedJoin, createdAts,
	)
	if err != nil {
		return apperr.FromStore("ledger.CreateCredentials", err)
	}
	return nil
}

// CancelByCode marks a credential cancelled.
func (s *PostgresStore) CancelByCode(ctx context.Context, code string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Credential{}, ErrInvalidInput
	}

	creds := pg.Ident(s.schema, "invitation_credentials")
	batches := pg.Ident(s.schema, "collection_batches")
	out, err := scanCredential(s.db.QueryRow(ctx,
		`UPDATE `+creds+` c
		    SET status = 'cancelled'
		   FROM `+batches+` b
		  WHERE c.code = $1
		    AND b.id = c.batch_id
		    AND c.status <> 'cancelled'
		RETURNING `+credentialCols,
		code,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, err
	}
	if _, selErr := s.GetByCode(ctx, code); selErr != nil {
		return Credential{}, selErr
	}
	return Credential{}, ErrNotCancellable
}

// RefreshStatuses recomputes the cached credential and batch statuses at now.
// Expiry is applied before exhaustion, so a credential past its deadline reports expired.
func (s *PostgresStore) RefreshStatuses(ctx context.Context, now time.Time) (RefreshResult, error) {
	if err := ctx.Err(); err != nil {
		return RefreshResult{}, err
	}
	creds := pg.Ident(s.schema, "invitation_credentials")
	batches := pg.Ident(s.schema, "collection_batches")

	var res RefreshResult
	tag, err := s.db.Exec(ctx,
		`UPDATE `+creds+` c
		    SET status = 'expired'
		   FROM `+batches+` b
		  WHERE b.id = c.batch_id
		    AND b.deadline < $1
		    AND c.status IN ('active', 'used_up')`,
		now,
	)
	if err != nil {
		return RefreshResult{}, err
	}
	res.ExpiredCredentials = int(tag.RowsAffected())

	tag, err = s.db.Exec(ctx,
		`UPDATE `+creds+` SET status = 'used_up' WHERE status = 'active' AND used_orders >= max_orders`,
	)
	if err != nil {
		return RefreshResult{}, err
	}
	res.UsedUpCredentials = int(tag.RowsAffected())

	tag, err = s.db.Exec(ctx,
		`UPDATE `+batches+` SET status = 'expired' WHERE status = 'active' AND deadline < $1`,
		now,
	)
	if err != nil {
		return RefreshResult{}, err
	}
	res.ExpiredBatches = int(tag.RowsAffected())
	return res, nil
}
