// Package producer publishes single messages and reports where the broker
// stored them.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"conduit/internal/logging"
	"conduit/internal/telemetry"
	"conduit/sink"
	sinkkafka "conduit/sink/kafka"
	"conduit/source/kafka"
)

var (
	// ErrEncode wraps SendJSON serialization failures. Nothing is sent.
	ErrEncode = errors.New("producer: encode payload")
	ErrClosed = errors.New("producer: closed")
)

// Receipt is the partition and offset of a delivered message.
type Receipt = sink.Receipt

// Option configures a Producer.
type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Producer is safe for concurrent use.
type Producer struct {
	sink    sink.Adapter
	timeout time.Duration
	opts    options
	closed  atomic.Bool
}

// New connects a publishing driver. A sink registered under cfg.Driver is
// preferred; otherwise the sarama sync producer is used.
func New(cfg kafka.Config, opts ...Option) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := sink.NewAdapter(cfg.Driver)
	if errors.Is(err, sink.ErrUnknownSink) {
		a, err = sink.NewAdapter(sinkkafka.DriverName)
	}
	if err != nil {
		return nil, err
	}
	err = a.Configure(sinkkafka.Config{
		Brokers:  cfg.BrokerList(),
		Version:  cfg.Version,
		ClientID: cfg.ClientID,
		Timeout:  cfg.DeliveryTimeout(),
		TLSEn:    cfg.TLSEn,
		SASLUser: cfg.SASLUser,
		SASLPass: cfg.SASLPass,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	return NewWithAdapter(a, cfg.DeliveryTimeout(), opts...), nil
}

// NewWithAdapter wraps a configured sink. timeout bounds every send; zero
// means 5s.
func NewWithAdapter(a sink.Adapter, timeout time.Duration, opts ...Option) *Producer {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logging.Component("producer")
	}
	if o.tracer == nil {
		o.tracer = telemetry.Tracer()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Producer{sink: a, timeout: timeout, opts: o}
}

// Send publishes payload and blocks until the broker acknowledges it or the
// delivery timeout elapses. A nil key publishes without a key. Failures are
// returned without retry.
func (p *Producer) Send(ctx context.Context, topic string, key, payload []byte) (Receipt, error) {
	return p.SendRecord(ctx, sink.Record{Topic: topic, Key: key, Value: payload})
}

// SendJSON encodes v and sends it. An encoding failure is returned before
// anything reaches the network.
func (p *Producer) SendJSON(ctx context.Context, topic string, key []byte, v any) (Receipt, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return p.Send(ctx, topic, key, payload)
}

// SendRecord is Send with headers.
func (p *Producer) SendRecord(ctx context.Context, rec sink.Record) (Receipt, error) {
	if p.closed.Load() {
		return Receipt{}, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := p.opts.tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(rec.Topic),
		))
	defer span.End()

	start := time.Now()
	r, err := p.sink.Publish(ctx, &rec)
	p.opts.metrics.Publish(rec.Topic, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.opts.log.Error("publish failed", "topic", rec.Topic, "err", err)
		return Receipt{}, err
	}
	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
		attribute.Int64("messaging.kafka.offset", r.Offset),
	)
	p.opts.log.Debug("published", "topic", rec.Topic, "partition", r.Partition, "offset", r.Offset)
	return r, nil
}

func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.sink.Close()
}
