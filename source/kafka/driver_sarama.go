package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"conduit/internal/logging"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

// SaramaDriver adapts a sarama consumer group to the pull-style Adapter.
// A background pump runs group sessions; every claim hands its messages over
// an unbuffered channel, so a partition never has more than one record in
// flight and the order of commits per partition follows the log.
type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
	clock *commitClock

	recCh chan *Record
	errCh chan error

	mu      sync.Mutex
	topics  []string
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type saramaAck struct {
	sess sarama.ConsumerGroupSession
	msg  *sarama.ConsumerMessage
}

func (d *SaramaDriver) Configure(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	sc, err := saramaConfig(config)
	if err != nil {
		return err
	}
	d.cfg = config
	d.clock = newCommitClock(config.CommitInterval())
	d.recCh = make(chan *Record)
	d.errCh = make(chan error)
	d.done = make(chan struct{})

	if d.cl, err = sarama.NewClient(config.BrokerList(), sc); err != nil {
		return fmt.Errorf("kafka: connect %s: %w", config.Brokers, err)
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(config.ConsumerGroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return fmt.Errorf("kafka: consumer group %q: %w", config.ConsumerGroupID, err)
	}
	go d.drainErrors()
	return nil
}

func saramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidConfig, config.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = config.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.Group.Session.Timeout = config.SessionTimeout()
	if hb := config.SessionTimeout() / 3; hb < sc.Consumer.Group.Heartbeat.Interval {
		sc.Consumer.Group.Heartbeat.Interval = hb
	}
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.AutoOffsetReset {
	case OffsetEarliest:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		// sarama has no "fail when no offset" mode; none behaves like latest.
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func (d *SaramaDriver) Subscribe(topics []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return errors.New("kafka: sarama driver cannot resubscribe a running group")
	}
	d.topics = append([]string(nil), topics...)
	return nil
}

func (d *SaramaDriver) Receive(ctx context.Context) (*Record, error) {
	if err := d.startPump(); err != nil {
		return nil, err
	}
	select {
	case rec := <-d.recCh:
		return rec, nil
	case err := <-d.errCh:
		return nil, err
	case <-d.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *SaramaDriver) Commit(rec *Record) error {
	ack, ok := rec.ack.(*saramaAck)
	if !ok {
		return fmt.Errorf("kafka: record %s[%d]@%d was not received by the sarama driver", rec.Topic, rec.Partition, rec.Offset)
	}
	ack.sess.MarkMessage(ack.msg, "")
	if d.clock.due() {
		ack.sess.Commit()
	}
	return nil
}

func (d *SaramaDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel, started := d.cancel, d.started
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-d.done
	} else if d.done != nil {
		close(d.done)
	}
	var err error
	if d.group != nil {
		err = d.group.Close()
	}
	if d.cl != nil && !d.cl.Closed() {
		if cerr := d.cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *SaramaDriver) startPump() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	if len(d.topics) == 0 {
		return ErrNotSubscribed
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel, d.started = cancel, true
	go d.pump(ctx, d.topics)
	return nil
}

// pump keeps the group joined. A failed session is reported to Receive and
// retried after an exponential pause.
func (d *SaramaDriver) pump(ctx context.Context, topics []string) {
	defer close(d.done)

	handler := &groupHandler{driver: d}
	bo := backoff.NewExponentialBackOff(
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		err := d.group.Consume(ctx, topics, handler)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err == nil {
			bo.Reset()
			continue
		}
		select {
		case d.errCh <- fmt.Errorf("kafka: consume session: %w", err):
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// drainErrors logs asynchronous group errors, commit failures included.
// The channel closes with the group.
func (d *SaramaDriver) drainErrors() {
	for err := range d.group.Errors() {
		logging.L().Error("sarama-driver: group error", "err", err)
	}
}

type groupHandler struct {
	driver *SaramaDriver
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup flushes offsets marked since the last due commit; with auto-commit
// off sarama would otherwise drop them on rebalance.
func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	logging.L().Info("sarama-driver: session ended", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := &Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Headers:   toHeaderMap(msg.Headers),
				Timestamp: msg.Timestamp,
				ack:       &saramaAck{sess: sess, msg: msg},
			}
			select {
			case h.driver.recCh <- rec:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		if h == nil {
			continue
		}
		out[string(h.Key)] = h.Value
	}
	return out
}
