package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"conduit/sink"

	"github.com/IBM/sarama"
)

// DriverName is the sink registry name of the sarama producer.
const DriverName = "kafka"

// Config groups the tunables of the sarama sync producer.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Version      string        `yaml:"version"`
	ClientID     string        `yaml:"client_id"`
	RequiredAcks string        `yaml:"required_acks"` // all (default) | leader | none
	Timeout      time.Duration `yaml:"timeout"`       // broker ack wait, default 5s
	TLSEn        bool          `yaml:"tls_enabled"`
	SASLUser     string        `yaml:"sasl_user"`
	SASLPass     string        `yaml:"sasl_pass"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer

	closeOnce sync.Once
	closeErr  error
}

// WrapSyncProducer returns a configured sink around an existing producer,
// e.g. a sarama/mocks producer in tests.
func WrapSyncProducer(p sarama.SyncProducer) sink.Adapter {
	return &driver{p: p}
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	cfg.applyDefaults()
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka-sink: brokers required")
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return err
	}
	d.cfg = cfg
	if d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc); err != nil {
		return fmt.Errorf("kafka-sink: connect %s: %w", strings.Join(cfg.Brokers, ","), err)
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: invalid version %q: %w", c.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	if c.ClientID != "" {
		sc.ClientID = c.ClientID
	}

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka-sink: invalid RequiredAcks %q", c.RequiredAcks)
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout

	if c.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	return sc, nil
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// Publish waits for the broker ack or ctx, whichever comes first. When ctx
// wins the record may still be written later; the caller sees an error.
func (d *driver) Publish(ctx context.Context, rec *sink.Record) (sink.Receipt, error) {
	msg := &sarama.ProducerMessage{
		Topic:   rec.Topic,
		Value:   sarama.ByteEncoder(rec.Value),
		Headers: toRecordHeaders(rec.Headers),
	}
	if rec.Key != nil {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}

	done := make(chan sendResult, 1)
	go func() {
		p, o, err := d.p.SendMessage(msg)
		done <- sendResult{partition: p, offset: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return sink.Receipt{}, fmt.Errorf("kafka-sink: publish to %q: %w", rec.Topic, res.err)
		}
		return sink.Receipt{Partition: res.partition, Offset: res.offset}, nil
	case <-ctx.Done():
		return sink.Receipt{}, fmt.Errorf("kafka-sink: publish to %q: %w", rec.Topic, ctx.Err())
	}
}

func (d *driver) Close() error {
	d.closeOnce.Do(func() {
		if d.p != nil {
			d.closeErr = d.p.Close()
		}
	})
	return d.closeErr
}

func toRecordHeaders(h map[string][]byte) []sarama.RecordHeader {
	if len(h) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return out
}

func init() { sink.Register(DriverName, func() sink.Adapter { return &driver{} }) }
