package consumer

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conduit/internal/telemetry"
)

// Option configures a Consumer.
type Option func(*options)

type options struct {
	log        *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	retryFirst time.Duration
	retryMax   time.Duration
}

func defaults() options {
	return options{
		retryFirst: 500 * time.Millisecond,
		retryMax:   5 * time.Second,
	}
}

// WithLogger sets the logger; defaults to the process logger tagged
// component=consumer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithRetryBackoff bounds the pause after a failed receive. The pause grows
// exponentially from first up to max and resets after the next success.
func WithRetryBackoff(first, max time.Duration) Option {
	return func(o *options) {
		o.retryFirst, o.retryMax = first, max
	}
}
