package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"conduit/internal/logging"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const dialTimeout = 10 * time.Second

// KafkaGoDriver reads through a segmentio/kafka-go group Reader. With a
// commit interval set, kafka-go queues commits and flushes them in the
// background; otherwise every Commit is a synchronous round trip.
type KafkaGoDriver struct {
	cfg    Config
	dialer *kafkago.Dialer

	mu     sync.Mutex
	reader *kafkago.Reader
	closed bool
}

func (d *KafkaGoDriver) Configure(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	d.cfg = config
	d.dialer = &kafkago.Dialer{
		ClientID:  config.ClientID,
		Timeout:   dialTimeout,
		DualStack: true,
	}
	if config.TLSEn {
		d.dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if config.SASLUser != "" {
		d.dialer.SASLMechanism = plain.Mechanism{Username: config.SASLUser, Password: config.SASLPass}
	}

	// kafka-go connects lazily; dial once so an unreachable cluster fails here.
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	var lastErr error
	for _, addr := range config.BrokerList() {
		conn, err := d.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("kafka: connect %s: %w", config.Brokers, lastErr)
}

func (d *KafkaGoDriver) Subscribe(topics []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.reader != nil {
		if err := d.reader.Close(); err != nil {
			logging.L().Warn("kafka-go-driver: closing previous reader", "err", err)
		}
	}
	d.reader = kafkago.NewReader(readerConfig(d.cfg, topics, d.dialer))
	return nil
}

// readerConfig maps Config onto a group reader. kafka-go cannot fail on a
// missing offset, so none starts at the end like latest.
func readerConfig(cfg Config, topics []string, dialer *kafkago.Dialer) kafkago.ReaderConfig {
	start := kafkago.LastOffset
	if cfg.AutoOffsetReset == OffsetEarliest {
		start = kafkago.FirstOffset
	}
	return kafkago.ReaderConfig{
		Brokers:        cfg.BrokerList(),
		GroupID:        cfg.ConsumerGroupID,
		GroupTopics:    append([]string(nil), topics...),
		Dialer:         dialer,
		StartOffset:    start,
		SessionTimeout: cfg.SessionTimeout(),
		CommitInterval: cfg.CommitInterval(),
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
	}
}

func (d *KafkaGoDriver) Receive(ctx context.Context) (*Record, error) {
	r, err := d.current()
	if err != nil {
		return nil, err
	}
	msg, err := r.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("kafka: fetch: %w", err)
	}
	return fromKafkaGoMessage(msg), nil
}

func fromKafkaGoMessage(msg kafkago.Message) *Record {
	return &Record{
		Topic:     msg.Topic,
		Partition: int32(msg.Partition),
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   fromKafkaGoHeaders(msg.Headers),
		Timestamp: msg.Time,
		ack:       msg,
	}
}

func (d *KafkaGoDriver) Commit(rec *Record) error {
	msg, ok := rec.ack.(kafkago.Message)
	if !ok {
		return fmt.Errorf("kafka: record %s[%d]@%d was not received by the kafka-go driver", rec.Topic, rec.Partition, rec.Offset)
	}
	r, err := d.current()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SessionTimeout())
	defer cancel()
	if err := r.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: commit %s[%d]@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
	}
	return nil
}

func (d *KafkaGoDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

func (d *KafkaGoDriver) current() (*kafkago.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return nil, ErrClosed
	case d.reader == nil:
		return nil, ErrNotSubscribed
	}
	return d.reader, nil
}

func (d *KafkaGoDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func fromKafkaGoHeaders(src []kafkago.Header) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[h.Key] = h.Value
	}
	return out
}

var _ Adapter = (*KafkaGoDriver)(nil)
var _ Adapter = (*SaramaDriver)(nil)
