package verify

import (
	"context"
	"log/slog"
	"time"

	"kiln/cmd/internal/ids"
	orderevents "kiln/shared/contracts/orderevents/v1"
)

// Notifier accepts envelopes for detached delivery.
type Notifier interface {
	Notify(ctx context.Context, ev orderevents.Envelope)
}

// NotifySender delivers codes as verification_code envelopes through a Notifier.
type NotifySender struct {
	N   Notifier
	Log *slog.Logger
}

// SendCode implements CodeSender.
func (s NotifySender) SendCode(ctx context.Context, email, code string, expiresAt time.Time) {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err == nil {
		var env orderevents.Envelope
		env, err = orderevents.New(orderevents.TypeVerificationCode, id, "", "", now, orderevents.VerificationCodePayload{
			Email:     email,
			Code:      code,
			ExpiresAt: expiresAt,
		})
		if err == nil {
			s.N.Notify(ctx, env)
			return
		}
	}
	if s.Log != nil {
		s.Log.Warn("verify.send.build_failed", "err", err)
	}
}
