package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	orderevents "kiln/shared/contracts/orderevents/v1"
)

// Sink delivers one envelope to a transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev orderevents.Envelope) error
}

// LogSink writes envelopes to the structured log. Verification codes are redacted unless
// ShowCodes is set.
type LogSink struct {
	Log       *slog.Logger
	ShowCodes bool
}

func (s LogSink) Name() string { return SinkLog }

func (s LogSink) Publish(ctx context.Context, ev orderevents.Envelope) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"type", ev.Type, "id", ev.ID}
	if ev.OrderID != "" {
		attrs = append(attrs, "order_id", ev.OrderID)
	}

	if ev.Type == orderevents.TypeVerificationCode {
		var p orderevents.VerificationCodePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode verification payload: %w", err)
		}
		code := "[redacted]"
		if s.ShowCodes {
			code = p.Code
		}
		attrs = append(attrs, "email", p.Email, "code", code, "expires_at", p.ExpiresAt)
	} else {
		attrs = append(attrs, "payload", string(ev.Payload))
	}

	log.InfoContext(ctx, "notify.event", attrs...)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m Multi) Publish(ctx context.Context, ev orderevents.Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// routingKey maps an envelope type to a broker routing key / header value.
func routingKey(ev orderevents.Envelope) string {
	switch ev.Type {
	case orderevents.TypeOrderCreated:
		return "orders.created"
	case orderevents.TypeOrderStatusChanged:
		return "orders.status_changed"
	case orderevents.TypeVerificationCode:
		return "auth.verification_code"
	default:
		return "misc." + ev.Type
	}
}
