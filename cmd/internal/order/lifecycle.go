package order

import (
	"context"
	"fmt"
	"strings"

	"kiln/cmd/internal/ids"
	orderevents "kiln/shared/contracts/orderevents/v1"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const shippedMessage = "Order shipped"

// Tracker moves orders through the lifecycle and keeps the status log.
type Tracker struct {
	store Store
	opts  options
}

// NewTracker constructs a Tracker. The default policy is Permissive.
func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Tracker{store: store, opts: o}, nil
}

// Policy returns the active transition policy.
func (t *Tracker) Policy() TransitionPolicy { return t.opts.policy }

// SetStatus moves an order (and all of its lines) to status and appends a log entry.
// An empty message defaults to "Order status changed to <status>".
func (t *Tracker) SetStatus(ctx context.Context, orderID string, status Status, message string) error {
	if t == nil || t.store == nil {
		return ErrInvalidInput
	}
	ctx, span := tracer.Start(ctx, "order.SetStatus")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrInvalidInput
	}
	status, err := ParseStatus(string(status))
	if err != nil {
		span.SetStatus(codes.Error, "invalid status")
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = fmt.Sprintf("Order status changed to %s", status)
	}
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status)))

	now := t.opts.now()
	var (
		before Order
		entry  StatusEntry
	)
	err = t.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LoadForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := t.opts.policy.Allow(o.Status, status); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, orderID, status, now); err != nil {
			return err
		}
		entryID, err := ids.NewULID(now)
		if err != nil {
			return err
		}
		entry = StatusEntry{ID: entryID, OrderID: orderID, Status: status, Message: message, CreatedAt: now}
		if err := tx.AppendStatus(ctx, entry); err != nil {
			return err
		}
		before = o
		return nil
	})
	if err != nil {
		err = conflictError("order.SetStatus", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err))
		t.opts.log.Info("order.status.rejected", "order_id", orderID, "status", status, "err", err)
		return err
	}

	t.opts.metrics.ObserveTransition(before.Status, status)
	t.opts.log.Info("order.status.changed",
		"order_id", orderID,
		"from", before.Status,
		"to", status,
	)
	t.notifyChanged(ctx, before, entry)
	return nil
}

// ShipOrder moves an order to shipping with the standard message.
func (t *Tracker) ShipOrder(ctx context.Context, orderID string) error {
	return t.SetStatus(ctx, orderID, StatusShipping, shippedMessage)
}

// History returns the status log oldest first.
func (t *Tracker) History(ctx context.Context, orderID string) ([]StatusEntry, error) {
	if t == nil || t.store == nil {
		return nil, ErrInvalidInput
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrInvalidInput
	}
	return t.store.History(ctx, orderID)
}

func (t *Tracker) notifyChanged(ctx context.Context, before Order, entry StatusEntry) {
	evID, err := ids.NewULID(entry.CreatedAt)
	if err != nil {
		t.opts.log.Warn("order.notify.build_failed", "order_id", entry.OrderID, "err", err)
		return
	}
	env, err := orderevents.New(orderevents.TypeOrderStatusChanged, evID, entry.OrderID, before.OwnerID, entry.CreatedAt,
		orderevents.OrderStatusChangedPayload{
			OrderID:   entry.OrderID,
			From:      string(before.Status),
			To:        string(entry.Status),
			Message:   entry.Message,
			ChangedAt: entry.CreatedAt,
		})
	if err != nil {
		t.opts.log.Warn("order.notify.build_failed", "order_id", entry.OrderID, "err", err)
		return
	}
	t.opts.notifier.Notify(context.WithoutCancel(ctx), env)
}
