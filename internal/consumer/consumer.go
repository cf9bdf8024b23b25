// Package consumer runs the receive loop: it pulls one record at a time from
// a kafka.Adapter, routes it to the handler bound to its topic and commits
// the offset when the handler consumed or rejected it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"conduit/internal/handler"
	"conduit/internal/logging"
	"conduit/internal/telemetry"
	"conduit/source/kafka"
)

// ErrAlreadyStarted is returned by Start on every call after the first.
var ErrAlreadyStarted = errors.New("consumer: already started")

type Consumer struct {
	src  kafka.Adapter
	opts options

	mu       sync.Mutex
	handlers map[string]handler.Handler
	started  bool
}

// New connects a driver chosen by cfg.Driver. Offsets are only committed
// through the loop.
func New(cfg kafka.Config, opts ...Option) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := kafka.NewAdapter(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(cfg); err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	return NewWithAdapter(src, opts...), nil
}

// NewWithAdapter wraps an already configured adapter.
func NewWithAdapter(src kafka.Adapter, opts ...Option) *Consumer {
	o := defaults()
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logging.Component("consumer")
	}
	if o.tracer == nil {
		o.tracer = telemetry.Tracer()
	}
	return &Consumer{
		src:      src,
		opts:     o,
		handlers: make(map[string]handler.Handler),
	}
}

// RegisterHandler binds h to h.Topic(). A second handler for the same topic
// replaces the first. Handlers registered after Start, and nil handlers, are
// ignored with a warning.
func (c *Consumer) RegisterHandler(h handler.Handler) {
	topic, ok := topicOf(h)
	if !ok {
		c.opts.log.Warn("ignoring handler without topic")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.opts.log.Warn("consumer already started; handler not registered", "topic", topic)
		return
	}
	if _, ok := c.handlers[topic]; ok {
		c.opts.log.Info("replacing handler", "topic", topic)
	}
	c.handlers[topic] = h
}

// topicOf reports h's topic. A nil handler, including a typed nil whose
// Topic panics, has none.
func topicOf(h handler.Handler) (topic string, ok bool) {
	if h == nil {
		return "", false
	}
	defer func() {
		if recover() != nil {
			topic, ok = "", false
		}
	}()
	topic = h.Topic()
	return topic, topic != ""
}

// Topics returns the bound topics, sorted.
func (c *Consumer) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicsLocked()
}

func (c *Consumer) topicsLocked() []string {
	out := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Subscribe subscribes to exactly the bound topics. With no handlers it
// only logs a warning.
func (c *Consumer) Subscribe() error {
	topics := c.Topics()
	if len(topics) == 0 {
		c.opts.log.Warn("no handlers registered; nothing to subscribe")
		return nil
	}
	if err := c.src.Subscribe(topics); err != nil {
		return fmt.Errorf("consumer: subscribe %v: %w", topics, err)
	}
	c.opts.log.Info("subscribed", "topics", topics)
	return nil
}

// Start launches the receive loop. From then on the loop owns the adapter:
// it is closed when the loop exits, and the handler set is frozen.
func (c *Consumer) Start(ctx context.Context) (*Task, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.started = true
	routes := make(map[string]handler.Handler, len(c.handlers))
	for t, h := range c.handlers {
		routes[t] = h
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, routes, t.done)
	return t, nil
}

// Close releases the adapter of a consumer that was never started. A
// started consumer is closed through its Task.
func (c *Consumer) Close() error {
	c.mu.Lock()
	started := c.started
	c.started = true
	c.mu.Unlock()
	if started {
		return nil
	}
	return c.src.Close()
}

func (c *Consumer) run(ctx context.Context, routes map[string]handler.Handler, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := c.src.Close(); err != nil {
			c.opts.log.Warn("closing adapter", "err", err)
		}
	}()

	if len(routes) == 0 {
		c.opts.log.Warn("no handlers registered; receive loop idle until stopped")
		<-ctx.Done()
		return
	}

	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.opts.retryFirst),
		backoff.WithMaxInterval(c.opts.retryMax),
		backoff.WithMaxElapsedTime(0),
	)

	c.opts.log.Info("receive loop started", "topics", len(routes))
	for ctx.Err() == nil {
		rec, err := c.src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrClosed) {
				break
			}
			c.opts.metrics.ReceiveError()
			pause := bo.NextBackOff()
			c.opts.log.Error("receive failed", "err", err, "retry_in", pause)
			select {
			case <-time.After(pause):
			case <-ctx.Done():
			}
			continue
		}
		bo.Reset()
		if rec != nil {
			c.dispatch(ctx, routes, rec)
		}
	}
	c.opts.log.Info("receive loop stopped")
}

func (c *Consumer) dispatch(ctx context.Context, routes map[string]handler.Handler, rec *kafka.Record) {
	log := c.opts.log.With("topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)

	h, ok := routes[rec.Topic]
	if !ok {
		log.Warn("no handler for topic; message dropped")
		c.opts.metrics.Message(rec.Topic, telemetry.OutcomeUnrouted)
		return
	}
	if rec.Value == nil {
		log.Warn("message without payload; dropped")
		c.opts.metrics.Message(rec.Topic, telemetry.OutcomeEmpty)
		return
	}

	ctx, span := c.opts.tracer.Start(ctx, "HandleMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(rec.Topic),
			attribute.Int64("messaging.kafka.partition", int64(rec.Partition)),
			attribute.Int64("messaging.kafka.offset", rec.Offset),
		))
	defer span.End()

	start := time.Now()
	action, err := c.invoke(ctx, h, rec)
	c.opts.metrics.HandleDuration(rec.Topic, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("handler failed; offset not committed", "err", err)
		c.opts.metrics.Message(rec.Topic, telemetry.OutcomeError)
		return
	}
	span.SetAttributes(attribute.String("conduit.action", action.String()))

	switch {
	case action.Commits():
		c.opts.metrics.Message(rec.Topic, action.String())
		if err := c.src.Commit(rec); err != nil {
			log.Error("commit failed", "action", action, "err", err)
			c.opts.metrics.CommitError(rec.Topic)
			return
		}
		log.Debug("committed", "action", action)
	case action == handler.Skip:
		c.opts.metrics.Message(rec.Topic, action.String())
		log.Debug("skipped; offset left for redelivery")
	default:
		log.Error("handler returned unknown action; offset not committed", "action", action)
		c.opts.metrics.Message(rec.Topic, telemetry.OutcomeError)
	}
}

// invoke runs the optional transform and the handler, turning a panic into
// an error.
func (c *Consumer) invoke(ctx context.Context, h handler.Handler, rec *kafka.Record) (action handler.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			c.opts.log.Error("handler panicked", "topic", rec.Topic, "panic", r, "stack", string(buf[:n]))
			err = fmt.Errorf("consumer: handler for %q panicked: %v", rec.Topic, r)
		}
	}()

	payload := rec.Value
	if t, ok := h.(handler.Transformer); ok {
		if payload, err = t.Transform(payload); err != nil {
			return handler.Skip, fmt.Errorf("consumer: transform: %w", err)
		}
	}
	return h.Handle(ctx, handler.Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     payload,
		Headers:   rec.Headers,
		Timestamp: rec.Timestamp,
	})
}
