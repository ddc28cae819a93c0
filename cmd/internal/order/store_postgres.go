package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/storage/pg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const requestConstraint = "uq_orders_user_request"

// PostgresStore persists orders in PostgreSQL and runs admission transactions that also touch
// the ledger and inventory tables.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	iso    pgx.TxIsoLevel
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

// WithIsolation sets the transaction isolation level (default: serializable).
func WithIsolation(iso pgx.TxIsoLevel) StoreOption {
	return func(s *PostgresStore) error {
		if iso == "" {
			return ErrInvalidInput
		}
		s.iso = iso
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pg.DefaultSchema, iso: pgx.Serializable}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// InTx runs fn in one pgx transaction shared by the order, ledger and inventory queries.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return pg.InTx(ctx, s.pool, s.iso, func(tx pgx.Tx) error {
		creds, err := ledger.NewPostgresStore(tx, ledger.WithSchema(s.schema))
		if err != nil {
			return err
		}
		variants, err := inventory.NewPostgresStore(tx, inventory.WithSchema(s.schema))
		if err != nil {
			return err
		}
		return fn(&pgTx{
			q:        queries{db: tx, schema: s.schema},
			creds:    creds,
			variants: variants,
		})
	})
}

// Get loads an order with lines and history.
func (s *PostgresStore) Get(ctx context.Context, orderID string) (Order, error) {
	q := queries{db: s.pool, schema: s.schema}
	return q.loadFull(ctx, `o.id = $1`, strings.TrimSpace(orderID))
}

// FindByRequestID loads the order admitted for (ownerID, requestID).
func (s *PostgresStore) FindByRequestID(ctx context.Context, ownerID, requestID string) (Order, error) {
	q := queries{db: s.pool, schema: s.schema}
	return q.findByRequestID(ctx, ownerID, requestID)
}

// ListByOwner returns the owner's orders newest first, lines included.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	q := queries{db: s.pool, schema: s.schema}
	return q.list(ctx, `WHERE o.user_id = $1`, ownerID)
}

// ListAll returns every order newest first, lines included.
func (s *PostgresStore) ListAll(ctx context.Context) ([]Order, error) {
	q := queries{db: s.pool, schema: s.schema}
	return q.list(ctx, ``)
}

// History returns the status log oldest first.
func (s *PostgresStore) History(ctx context.Context, orderID string) ([]StatusEntry, error) {
	q := queries{db: s.pool, schema: s.schema}
	if _, err := q.header(ctx, `o.id = $1`, false, orderID); err != nil {
		return nil, err
	}
	return q.history(ctx, orderID)
}

type pgTx struct {
	q        queries
	creds    *ledger.PostgresStore
	variants *inventory.PostgresStore
}

func (t *pgTx) Credentials() ledger.Store { return t.creds }
func (t *pgTx) Variants() inventory.Store { return t.variants }

func (t *pgTx) FindByRequestID(ctx context.Context, ownerID, requestID string) (Order, error) {
	return t.q.findByRequestID(ctx, ownerID, requestID)
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	orders := pg.Ident(t.q.schema, "orders")
	var requestID any
	if o.RequestID != "" {
		requestID = o.RequestID
	}
	_, err := t.q.db.Exec(ctx,
		`INSERT INTO `+orders+` (
		     id, user_id, invitation_id, shipping_address, contact_info, status, request_id, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.OwnerID, o.CredentialID, o.ShippingAddress, o.ContactInfo, string(o.Status), requestID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if pg.IsUniqueViolation(err) && pg.ConstraintName(err) == requestConstraint {
			return ErrDuplicateRequest
		}
		return apperr.FromStore("order.InsertOrder", err)
	}

	var (
		lineIDs    = make([]string, 0, len(o.Lines))
		positions  = make([]int32, 0, len(o.Lines))
		variantIDs = make([]string, 0, len(o.Lines))
		quantities = make([]int32, 0, len(o.Lines))
		statuses   = make([]string, 0, len(o.Lines))
	)
	for _, l := range o.Lines {
		lineIDs = append(lineIDs, l.ID)
		positions = append(positions, int32(l.Position))
		variantIDs = append(variantIDs, l.VariantID)
		quantities = append(quantities, int32(l.Quantity))
		statuses = append(statuses, string(l.Status))
	}
	lines := pg.Ident(t.q.schema, "order_lines")
	_, err = t.q.db.Exec(ctx,
		`INSERT INTO `+lines+` (id, order_id, position, variant_id, quantity, status)
		 SELECT l.id, $1, l.position, l.variant_id, l.quantity, l.status
		   FROM unnest($2::text[], $3::int[], $4::text[], $5::int[], $6::text[])
		        AS l(id, position, variant_id, quantity, status)`,
		o.ID, lineIDs, positions, variantIDs, quantities, statuses,
	)
	if err != nil {
		return apperr.FromStore("order.InsertOrder", err)
	}
	return nil
}

func (t *pgTx) AppendStatus(ctx context.Context, e StatusEntry) error {
	log := pg.Ident(t.q.schema, "order_status_log")
	_, err := t.q.db.Exec(ctx,
		`INSERT INTO `+log+` (id, order_id, status, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.OrderID, string(e.Status), e.Message, e.CreatedAt,
	)
	return apperr.FromStore("order.AppendStatus", err)
}

func (t *pgTx) LoadForUpdate(ctx context.Context, orderID string) (Order, error) {
	o, err := t.q.header(ctx, `o.id = $1`, true, orderID)
	if err != nil {
		return Order{}, err
	}
	byOrder, err := t.q.lines(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = byOrder[o.ID]
	return o, nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, orderID string, status Status, at time.Time) error {
	orders := pg.Ident(t.q.schema, "orders")
	tag, err := t.q.db.Exec(ctx,
		`UPDATE `+orders+` SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(status), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	lines := pg.Ident(t.q.schema, "order_lines")
	_, err = t.q.db.Exec(ctx, `UPDATE `+lines+` SET status = $2 WHERE order_id = $1`, orderID, string(status))
	return err
}

// queries holds the read paths shared by pool and transaction.
type queries struct {
	db     pg.DBTX
	schema string
}

const orderCols = `o.id, o.user_id, o.invitation_id, o.shipping_address, o.contact_info, o.status,
		       o.request_id::text, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o         Order
		status    string
		requestID *string
	)
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&o.CredentialID,
		&o.ShippingAddress,
		&o.ContactInfo,
		&status,
		&requestID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	o.Status = Status(status)
	if requestID != nil {
		o.RequestID = *requestID
	}
	return o, err
}

func (q queries) header(ctx context.Context, where string, forUpdate bool, args ...any) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	orders := pg.Ident(q.schema, "orders")
	sql := `SELECT ` + orderCols + ` FROM ` + orders + ` o WHERE ` + where
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func (q queries) loadFull(ctx context.Context, where string, args ...any) (Order, error) {
	o, err := q.header(ctx, where, false, args...)
	if err != nil {
		return Order{}, err
	}
	byOrder, err := q.lines(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = byOrder[o.ID]
	o.History, err = q.history(ctx, o.ID)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (q queries) findByRequestID(ctx context.Context, ownerID, requestID string) (Order, error) {
	ownerID = strings.TrimSpace(ownerID)
	requestID = strings.TrimSpace(requestID)
	if ownerID == "" || requestID == "" {
		return Order{}, ErrNotFound
	}
	return q.loadFull(ctx, `o.user_id = $1 AND o.request_id = $2::uuid`, ownerID, requestID)
}

func (q queries) lines(ctx context.Context, orderIDs []string) (map[string][]Line, error) {
	out := make(map[string][]Line, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	lines := pg.Ident(q.schema, "order_lines")
	rows, err := q.db.Query(ctx,
		`SELECT id, order_id, position, variant_id, quantity, status, production_batch_id
		   FROM `+lines+`
		  WHERE order_id = ANY($1::text[])
		  ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l      Line
			status string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.VariantID, &l.Quantity, &status, &l.ProductionBatchID); err != nil {
			return nil, err
		}
		l.Status = Status(status)
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (q queries) history(ctx context.Context, orderID string) ([]StatusEntry, error) {
	log := pg.Ident(q.schema, "order_status_log")
	rows, err := q.db.Query(ctx,
		`SELECT id, order_id, status, message, created_at, seq
		   FROM `+log+`
		  WHERE order_id = $1
		  ORDER BY created_at, seq`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var (
			e      StatusEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Message, &e.CreatedAt, &e.Seq); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders := pg.Ident(q.schema, "orders")
	rows, err := q.db.Query(ctx,
		`SELECT `+orderCols+` FROM `+orders+` o `+where+` ORDER BY o.created_at DESC, o.id DESC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	var (
		out      []Order
		orderIDs []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
		orderIDs = append(orderIDs, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byOrder, err := q.lines(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = byOrder[out[i].ID]
	}
	return out, nil
}
