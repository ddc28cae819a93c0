package order

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/ids"
	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/storage/pg"
	orderevents "kiln/shared/contracts/orderevents/v1"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxLinesPerRequest = 100
	maxTextLen         = 1024
	// Upper bound for one merged line; matches the INTEGER quantity column.
	maxLineQuantity    = math.MaxInt32

	createdMessage = "Order created"
)

// LineRequest is one requested (variant, quantity) pair.
type LineRequest struct {
	VariantID string
	Quantity  int
}

// PlaceInput describes an order request.
type PlaceInput struct {
	OwnerID         string
	InvitationCode  string
	Lines           []LineRequest
	ShippingAddress string
	ContactInfo     string
	// RequestID is an optional client-supplied UUID. Replays with the same owner and id
	// return the first admitted order.
	RequestID string
	Now       time.Time
}

// Engine admits orders.
type Engine struct {
	store Store
	opts  options
}

// NewEngine constructs an Engine.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, opts: o}, nil
}

// PlaceOrder validates in and, when every check passes, reserves stock, consumes one credential
// slot and persists the order atomically. Failures leave the store untouched.
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceInput) (Order, error) {
	if e == nil || e.store == nil {
		return Order{}, ErrInvalidInput
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	placed, replay, err := e.placeOrder(ctx, in)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case replay:
		outcome = "replay"
	}
	span.SetAttributes(attribute.String("order.outcome", outcome))
	e.opts.metrics.ObserveAdmission(outcome, time.Since(start))

	if err != nil {
		level := slog.LevelInfo
		if apperr.KindOf(err) == nil {
			level = slog.LevelError
		}
		e.opts.log.Log(ctx, level, "order.place.rejected",
			"owner_id", in.OwnerID,
			"outcome", outcome,
			"err", err,
		)
		return Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", placed.ID))
	if replay {
		e.opts.log.Info("order.place.replay", "order_id", placed.ID, "owner_id", placed.OwnerID)
		return placed, nil
	}

	e.opts.log.Info("order.place.ok",
		"order_id", placed.ID,
		"owner_id", placed.OwnerID,
		"lines", len(placed.Lines),
		"items", placed.TotalQuantity(),
	)
	e.notifyCreated(ctx, placed)
	return placed, nil
}

func (e *Engine) placeOrder(ctx context.Context, in PlaceInput) (Order, bool, error) {
	req, err := normalizePlaceInput(in)
	if err != nil {
		return Order{}, false, err
	}
	if req.Now.IsZero() {
		req.Now = e.opts.now()
	}

	var (
		placed Order
		replay bool
	)
	err = e.store.InTx(ctx, func(tx Tx) error {
		if req.RequestID != "" {
			existing, err := tx.FindByRequestID(ctx, req.OwnerID, req.RequestID)
			if err == nil {
				placed, replay = existing, true
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		o, err := admit(ctx, tx, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		err = conflictError("order.PlaceOrder", err)
		if req.RequestID != "" && errors.Is(err, apperr.ErrConflict) {
			// A concurrent request with the same id may have committed first.
			existing, findErr := e.store.FindByRequestID(ctx, req.OwnerID, req.RequestID)
			switch {
			case findErr == nil:
				return existing, true, nil
			case !errors.Is(findErr, ErrNotFound):
				return Order{}, false, findErr
			}
		}
		return Order{}, false, err
	}
	return placed, replay, nil
}

// admit runs the validation sequence and the commit writes on tx.
func admit(ctx context.Context, tx Tx, req PlaceInput) (Order, error) {
	const op = "order.PlaceOrder"
	now := req.Now

	// 1. credential exists and is active
	cred, err := tx.Credentials().GetByCode(ctx, req.InvitationCode)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Order{}, apperr.New(op, apperr.ErrInvalidInvitationCode, "invalid invitation code")
		}
		return Order{}, err
	}
	switch cred.Status {
	case ledger.CredentialActive:
	case ledger.CredentialUsedUp:
		// used_up is the cached form of step 3, so it reports the quota error whether or not
		// the refresh has run yet.
		return Order{}, apperr.New(op, apperr.ErrOrderLimitExceeded, "invitation code has been used up")
	default:
		return Order{}, apperr.New(op, apperr.ErrInvalidInvitationCode, "invalid invitation code")
	}

	// 2. batch deadline
	if cred.Expired(now) {
		return Order{}, apperr.New(op, apperr.ErrInvalidInvitationCode, "collection batch has expired")
	}

	// 3. order quota
	if cred.Exhausted() {
		return Order{}, apperr.New(op, apperr.ErrOrderLimitExceeded, "invitation code has reached its order limit")
	}

	// 4. items per order
	total := 0
	for _, l := range req.Lines {
		if l.Quantity > cred.MaxItemsPerOrder-total {
			return Order{}, apperr.Newf(op, apperr.ErrOrderLimitExceeded,
				"order exceeds %d items allowed by the invitation", cred.MaxItemsPerOrder)
		}
		total += l.Quantity
	}

	// 5. per line, in request order
	variantIDs := make([]string, 0, len(req.Lines))
	for _, l := range req.Lines {
		variantIDs = append(variantIDs, l.VariantID)
	}
	variants, err := tx.Variants().GetVariants(ctx, variantIDs)
	if err != nil {
		return Order{}, err
	}
	for _, l := range req.Lines {
		v, ok := variants[l.VariantID]
		if !ok {
			return Order{}, apperr.Newf(op, apperr.ErrNotFound, "variant %s not found", l.VariantID)
		}
		if !cred.Allows(l.VariantID) {
			return Order{}, apperr.Newf(op, apperr.ErrValidation, "variant %s is not available for this invitation code", l.VariantID)
		}
		if l.Quantity > v.Stock {
			return Order{}, apperr.Newf(op, apperr.ErrInsufficientStock, "insufficient stock for variant %s", l.VariantID)
		}
		if l.Quantity > v.MaxOrderQuantity {
			return Order{}, apperr.Newf(op, apperr.ErrOrderLimitExceeded,
				"variant %s allows at most %d per order", l.VariantID, v.MaxOrderQuantity)
		}
	}

	// 6. commit: variants in id order, then the credential.
	reserveOrder := slices.Clone(req.Lines)
	slices.SortFunc(reserveOrder, func(a, b LineRequest) int { return strings.Compare(a.VariantID, b.VariantID) })
	for _, l := range reserveOrder {
		if _, err := tx.Variants().Reserve(ctx, l.VariantID, l.Quantity); err != nil {
			return Order{}, reserveError(l.VariantID, err)
		}
	}
	if _, err := tx.Credentials().ConsumeOrderSlot(ctx, cred.ID); err != nil {
		return Order{}, consumeError(err)
	}

	orderID, err := ids.NewULID(now)
	if err != nil {
		return Order{}, err
	}
	o := Order{
		ID:              orderID,
		OwnerID:         req.OwnerID,
		CredentialID:    cred.ID,
		ShippingAddress: req.ShippingAddress,
		ContactInfo:     req.ContactInfo,
		Status:          StatusPending,
		RequestID:       req.RequestID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Lines:           make([]Line, 0, len(req.Lines)),
	}
	for i, l := range req.Lines {
		lineID, err := ids.NewULID(now)
		if err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, Line{
			ID:        lineID,
			OrderID:   orderID,
			Position:  i,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Status:    StatusPending,
		})
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return Order{}, err
	}

	entryID, err := ids.NewULID(now)
	if err != nil {
		return Order{}, err
	}
	entry := StatusEntry{ID: entryID, OrderID: orderID, Status: StatusPending, Message: createdMessage, CreatedAt: now}
	if err := tx.AppendStatus(ctx, entry); err != nil {
		return Order{}, err
	}
	o.History = []StatusEntry{entry}
	return o, nil
}

func (e *Engine) notifyCreated(ctx context.Context, o Order) {
	lines := make([]orderevents.LinePayload, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderevents.LinePayload{VariantID: l.VariantID, Quantity: l.Quantity})
	}
	evID, err := ids.NewULID(e.opts.now())
	if err != nil {
		e.opts.log.Warn("order.notify.build_failed", "order_id", o.ID, "err", err)
		return
	}
	env, err := orderevents.New(orderevents.TypeOrderCreated, evID, o.ID, o.OwnerID, o.CreatedAt, orderevents.OrderCreatedPayload{
		OrderID:     o.ID,
		OwnerID:     o.OwnerID,
		Status:      string(o.Status),
		ContactInfo: o.ContactInfo,
		Lines:       lines,
		CreatedAt:   o.CreatedAt,
	})
	if err != nil {
		e.opts.log.Warn("order.notify.build_failed", "order_id", o.ID, "err", err)
		return
	}
	e.opts.notifier.Notify(context.WithoutCancel(ctx), env)
}

// normalizePlaceInput enforces the request boundary and merges repeated variants.
func normalizePlaceInput(in PlaceInput) (PlaceInput, error) {
	const op = "order.PlaceOrder"
	out := PlaceInput{
		OwnerID:         strings.TrimSpace(in.OwnerID),
		InvitationCode:  strings.TrimSpace(in.InvitationCode),
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		ContactInfo:     strings.TrimSpace(in.ContactInfo),
		RequestID:       strings.TrimSpace(in.RequestID),
		Now:             in.Now,
	}
	switch {
	case out.OwnerID == "":
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "owner is required")
	case out.InvitationCode == "":
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "invitationCode is required")
	case out.ShippingAddress == "":
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "shippingAddress is required")
	case out.ContactInfo == "":
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "contactInfo is required")
	case len(out.ShippingAddress) > maxTextLen || len(out.ContactInfo) > maxTextLen:
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "shippingAddress and contactInfo are limited to 1024 characters")
	case len(in.Lines) == 0:
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "at least one item is required")
	case len(in.Lines) > maxLinesPerRequest:
		return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "too many items")
	}
	if out.RequestID != "" {
		id, err := uuid.Parse(out.RequestID)
		if err != nil {
			return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "requestId must be a UUID")
		}
		out.RequestID = id.String()
	}

	index := make(map[string]int, len(in.Lines))
	for _, l := range in.Lines {
		variantID := strings.TrimSpace(l.VariantID)
		if variantID == "" {
			return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "variantId is required")
		}
		if l.Quantity <= 0 {
			return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "quantity must be a positive integer")
		}
		if l.Quantity > maxLineQuantity {
			return PlaceInput{}, apperr.New(op, apperr.ErrValidation, "quantity is too large")
		}
		if i, ok := index[variantID]; ok {
			if out.Lines[i].Quantity > maxLineQuantity-l.Quantity {
				return PlaceInput{}, apperr.Newf(op, apperr.ErrValidation, "quantity for variant %s is too large", variantID)
			}
			out.Lines[i].Quantity += l.Quantity
			continue
		}
		index[variantID] = len(out.Lines)
		out.Lines = append(out.Lines, LineRequest{VariantID: variantID, Quantity: l.Quantity})
	}
	return out, nil
}

// reserveError names the variant when the conditional decrement matched no row.
// Any other failure, a serialization abort included, passes through unchanged.
func reserveError(variantID string, err error) error {
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return apperr.Newf("order.PlaceOrder", apperr.ErrInsufficientStock, "insufficient stock for variant %s", variantID)
	}
	return err
}

func consumeError(err error) error {
	if errors.Is(err, ledger.ErrQuotaExceeded) {
		return apperr.New("order.PlaceOrder", apperr.ErrOrderLimitExceeded, "invitation code has reached its order limit")
	}
	return err
}

// conflictError reports serialization failures and deadlocks as Conflict. Errors that already
// carry a kind are returned as is.
func conflictError(op string, err error) error {
	if apperr.KindOf(err) != nil {
		return err
	}
	if pg.IsSerializationFailure(err) {
		return apperr.New(op, apperr.ErrConflict, "concurrent update, retry the request")
	}
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != nil {
		return k.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}
