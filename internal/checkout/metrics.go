package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments checkout sessions. A nil *Metrics records nothing.
type Metrics struct {
	transitions metric.Int64Counter
	dropped     metric.Int64Counter
	unrecorded  metric.Int64Counter
	unconfirmed metric.Int64Counter
	sessions    metric.Int64UpDownCounter
}

// NewMetrics registers checkout instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/xenking/downpay/internal/checkout")

	var (
		m   Metrics
		err error
	)
	if m.transitions, err = meter.Int64Counter("checkout.transitions",
		metric.WithDescription("Checkout phase transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	if m.dropped, err = meter.Int64Counter("checkout.events.dropped",
		metric.WithDescription("Events ignored because of the session phase"),
	); err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	if m.unrecorded, err = meter.Int64Counter("checkout.charged_unrecorded",
		metric.WithDescription("Captured payments the ledger failed to record"),
	); err != nil {
		return nil, errors.Wrap(err, "unrecorded counter")
	}
	if m.unconfirmed, err = meter.Int64Counter("checkout.captures.unconfirmed",
		metric.WithDescription("Captures whose outcome the provider did not confirm"),
	); err != nil {
		return nil, errors.Wrap(err, "unconfirmed counter")
	}
	if m.sessions, err = meter.Int64UpDownCounter("checkout.sessions.active",
		metric.WithDescription("Open checkout sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}
	return &m, nil
}

func (m *Metrics) transition(ctx context.Context, from, to Phase) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) droppedEvent(ctx context.Context, kind eventKind) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event", kind.String())))
}

func (m *Metrics) chargedUnrecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.unrecorded.Add(ctx, 1)
}

func (m *Metrics) captureUnconfirmed(ctx context.Context) {
	if m == nil {
		return
	}
	m.unconfirmed.Add(ctx, 1)
}

func (m *Metrics) sessionDelta(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, n)
}
