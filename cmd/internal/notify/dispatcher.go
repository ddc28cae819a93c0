// Package notify delivers order and verification events after their transaction committed.
//
// Delivery is detached and at-most-once: Notify never blocks and never fails the caller. Events
// wait in a bounded queue drained by a fixed worker group; a full queue drops the event, and a
// sink error is logged and counted.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	orderevents "kiln/shared/contracts/orderevents/v1"

	"golang.org/x/sync/errgroup"
)

// Delivery outcomes reported to Metrics.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Metrics counts delivery outcomes.
type Metrics interface {
	ObserveNotify(sink, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveNotify(string, string) {}

// Dispatcher fans events out to a Sink from a bounded queue.
type Dispatcher struct {
	sink    Sink
	log     *slog.Logger
	metrics Metrics
	workers int
	timeout time.Duration
	queue   chan orderevents.Envelope

	running atomic.Bool
	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics sets the outcome counter.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher constructs a Dispatcher. Call Run to start the workers.
func NewDispatcher(sink Sink, cfg Config, opts ...DispatcherOption) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("notify: sink is required")
	}
	if cfg.Workers <= 0 || cfg.Queue <= 0 || cfg.Timeout <= 0 {
		return nil, errors.New("notify: workers, queue and timeout must be positive")
	}
	d := &Dispatcher{
		sink:    sink,
		log:     slog.Default(),
		metrics: nopMetrics{},
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		queue:   make(chan orderevents.Envelope, cfg.Queue),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Notify enqueues ev without blocking. It drops ev when the queue is full.
func (d *Dispatcher) Notify(_ context.Context, ev orderevents.Envelope) {
	if d == nil {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.metrics.ObserveNotify(d.sink.Name(), OutcomeDropped)
		d.log.Warn("notify.drop", "reason", "queue_full", "type", ev.Type, "id", ev.ID, "order_id", ev.OrderID)
	}
}

// Run drains the queue with the configured worker count until ctx is done.
// Events still queued at shutdown are delivered best-effort before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("notify: dispatcher already running")
	}
	defer d.running.Store(false)

	d.log.Info("notify.start", "sink", d.sink.Name(), "workers", d.workers, "queue", cap(d.queue))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-d.queue:
					d.deliver(gctx, ev)
				}
			}
		})
	}
	err := g.Wait()

	d.drain()
	d.log.Info("notify.stop", "sent", d.sent.Load(), "failed", d.failed.Load(), "dropped", d.dropped.Load())
	return err
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev orderevents.Envelope) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, ev); err != nil {
		d.failed.Add(1)
		d.metrics.ObserveNotify(d.sink.Name(), OutcomeFailed)
		d.log.Error("notify.fail", "sink", d.sink.Name(), "type", ev.Type, "id", ev.ID, "order_id", ev.OrderID, "err", err)
		return
	}
	d.sent.Add(1)
	d.metrics.ObserveNotify(d.sink.Name(), OutcomeSent)
}

// Stats is a point-in-time view of the delivery counters.
type Stats struct {
	Queued  int
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:  len(d.queue),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}
