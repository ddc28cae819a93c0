package order

import (
	"context"
	"log/slog"
	"time"

	orderevents "kiln/shared/contracts/orderevents/v1"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("kiln/order")

// Notifier receives events after the owning transaction committed.
// Implementations must not block and must not report failures back.
type Notifier interface {
	Notify(ctx context.Context, ev orderevents.Envelope)
}

// Metrics records admission and lifecycle outcomes.
type Metrics interface {
	ObserveAdmission(outcome string, elapsed time.Duration)
	ObserveTransition(from, to Status)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, orderevents.Envelope) {}

type nopMetrics struct{}

func (nopMetrics) ObserveAdmission(string, time.Duration) {}
func (nopMetrics) ObserveTransition(Status, Status)       {}

type options struct {
	notifier Notifier
	metrics  Metrics
	log      *slog.Logger
	now      func() time.Time
	policy   TransitionPolicy
}

func defaultOptions() options {
	return options{
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		policy:   Permissive,
	}
}

// Option configures an Engine or a Tracker.
type Option func(*options) error

// WithNotifier sets the post-commit event sink.
func WithNotifier(n Notifier) Option {
	return func(o *options) error {
		if n == nil {
			return ErrInvalidInput
		}
		o.notifier = n
		return nil
	}
}

// WithMetrics sets the outcome recorder.
func WithMetrics(m Metrics) Option {
	return func(o *options) error {
		if m == nil {
			return ErrInvalidInput
		}
		o.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) error {
		if log == nil {
			return ErrInvalidInput
		}
		o.log = log
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return ErrInvalidInput
		}
		o.now = now
		return nil
	}
}

// WithPolicy sets the lifecycle transition policy (Tracker only).
func WithPolicy(p TransitionPolicy) Option {
	return func(o *options) error {
		if p == nil {
			return ErrInvalidInput
		}
		o.policy = p
		return nil
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}
