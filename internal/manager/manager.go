// Package manager composes the consumer and producer behind the enabled
// switch of the broker config. A disabled Manager turns every operation into
// a logged no-op so services can run without a broker.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conduit/internal/consumer"
	"conduit/internal/handler"
	"conduit/internal/logging"
	"conduit/internal/producer"
	"conduit/internal/telemetry"
	"conduit/source/kafka"
)

type Option func(*options)

type options struct {
	log      *slog.Logger
	metrics  *telemetry.Metrics
	consumer []consumer.Option
	producer []producer.Option
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics is shared by the consumer and the producer.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithConsumerOptions passes extra options to consumer.New.
func WithConsumerOptions(opts ...consumer.Option) Option {
	return func(o *options) { o.consumer = append(o.consumer, opts...) }
}

// WithProducerOptions passes extra options to producer.New.
func WithProducerOptions(opts ...producer.Option) Option {
	return func(o *options) { o.producer = append(o.producer, opts...) }
}

type Manager struct {
	cfg kafka.Config
	log *slog.Logger

	mu       sync.Mutex
	consumer *consumer.Consumer // nil when disabled or once started
	producer *producer.Producer
	task     *consumer.Task
}

// New builds a Manager. When cfg.Enabled is set both the consumer and the
// producer are connected eagerly and any failure aborts construction.
func New(cfg kafka.Config, opts ...Option) (*Manager, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logging.Component("manager")
	}
	m := &Manager{cfg: cfg, log: o.log}
	if !cfg.Enabled {
		m.log.Info("kafka integration disabled")
		return m, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	copts := append([]consumer.Option{consumer.WithMetrics(o.metrics)}, o.consumer...)
	c, err := consumer.New(cfg, copts...)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	popts := append([]producer.Option{producer.WithMetrics(o.metrics)}, o.producer...)
	p, err := producer.New(cfg, popts...)
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			m.log.Warn("closing consumer after producer failure", "err", cerr)
		}
		return nil, fmt.Errorf("manager: %w", err)
	}
	m.consumer, m.producer = c, p
	m.log.Info("kafka integration enabled",
		"brokers", cfg.BrokerList(), "group", cfg.ConsumerGroupID, "driver", cfg.Driver,
		"configured_topics", cfg.TopicList())
	return m, nil
}

// RegisterHandler forwards h to the consumer. It only warns when the
// integration is disabled or the consumer already runs.
func (m *Manager) RegisterHandler(h handler.Handler) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.cfg.Enabled:
		m.log.Warn("kafka disabled; handler not registered", "topic", topicOf(h))
	case m.consumer == nil:
		m.log.Warn("consumer already started; handler not registered", "topic", topicOf(h))
	default:
		m.consumer.RegisterHandler(h)
	}
	return m
}

// StartConsumer subscribes to the registered topics and starts the receive
// loop. It returns nil when disabled, when subscribing fails, or on every
// call after the first. The consumer is handed over on the first call, so a
// failed start is final and its adapter is closed.
func (m *Manager) StartConsumer(ctx context.Context) *consumer.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.Enabled {
		m.log.Warn("kafka disabled; consumer not started")
		return nil
	}
	if m.consumer == nil {
		m.log.Warn("consumer already started")
		return nil
	}
	c := m.consumer
	m.consumer = nil
	if err := c.Subscribe(); err != nil {
		m.log.Error("subscribe failed; consumer not started", "err", err)
		m.release(c)
		return nil
	}
	task, err := c.Start(ctx)
	if err != nil {
		m.log.Error("starting consumer", "err", err)
		m.release(c)
		return nil
	}
	m.task = task
	return task
}

func (m *Manager) release(c *consumer.Consumer) {
	if err := c.Close(); err != nil {
		m.log.Warn("closing consumer that failed to start", "err", err)
	}
}

// Producer returns nil when the integration is disabled.
func (m *Manager) Producer() *producer.Producer {
	return m.producer
}

func (m *Manager) IsEnabled() bool { return m.cfg.Enabled }

func (m *Manager) Config() kafka.Config { return m.cfg }

// Close stops a running consumer, releases one that never started and
// closes the producer.
func (m *Manager) Close() error {
	m.mu.Lock()
	c, task, p := m.consumer, m.task, m.producer
	m.consumer, m.task = nil, nil
	m.mu.Unlock()

	var errs []error
	if task != nil {
		task.Stop()
	}
	if c != nil {
		errs = append(errs, c.Close())
	}
	if p != nil {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// topicOf is only used for log lines; a typed-nil handler yields "".
func topicOf(h handler.Handler) (topic string) {
	if h == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			topic = ""
		}
	}()
	return h.Topic()
}
