package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"conduit/sink"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestDriver_PublishReturnsIncreasingOffsets(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndSucceed()
	mp.ExpectSendMessageAndSucceed()
	d := WrapSyncProducer(mp)
	defer d.Close()

	first, err := d.Publish(context.Background(), &sink.Record{Topic: "events", Value: []byte("a")})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	second, err := d.Publish(context.Background(), &sink.Record{Topic: "events", Key: []byte("k"), Value: []byte("b")})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if second.Offset <= first.Offset {
		t.Fatalf("offsets not increasing: %d then %d", first.Offset, second.Offset)
	}
}

func TestDriver_PublishBrokerRejects(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	d := WrapSyncProducer(mp)
	defer d.Close()

	_, err := d.Publish(context.Background(), &sink.Record{Topic: "events", Value: []byte("a")})
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("want broker error, got %v", err)
	}
}

func TestDriver_PublishKeyAndHeaders(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Key == nil {
			return errors.New("key missing")
		}
		if len(m.Headers) != 1 || string(m.Headers[0].Key) != "trace" {
			return errors.New("headers missing")
		}
		return nil
	})
	d := WrapSyncProducer(mp)
	defer d.Close()

	rec := &sink.Record{Topic: "events", Key: []byte("k"), Value: []byte("v"), Headers: map[string][]byte{"trace": []byte("1")}}
	if _, err := d.Publish(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

type stuckProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (s *stuckProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-s.release
	return 0, 1, nil
}

func (s *stuckProducer) Close() error { return nil }

func TestDriver_PublishTimesOut(t *testing.T) {
	sp := &stuckProducer{release: make(chan struct{})}
	defer close(sp.release)
	d := WrapSyncProducer(sp)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Publish(ctx, &sink.Record{Topic: "events", Value: []byte("a")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestDriver_ConfigureRejectsBadInput(t *testing.T) {
	d := &driver{}
	if err := d.Configure("not a config"); err == nil {
		t.Fatal("expected error for wrong config type")
	}
	if err := d.Configure(Config{}); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := buildSaramaConfig(Config{Version: "2.8.0", RequiredAcks: "some"}); err == nil {
		t.Fatal("expected error for invalid acks")
	}
}

func TestRegistered(t *testing.T) {
	a, err := sink.NewAdapter("kafka")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if _, ok := a.(*driver); !ok {
		t.Fatalf("unexpected adapter %T", a)
	}
	if _, err := sink.NewAdapter("stdout"); !errors.Is(err, sink.ErrUnknownSink) {
		t.Fatalf("want ErrUnknownSink, got %v", err)
	}
}
