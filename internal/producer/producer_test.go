package producer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"

	"conduit/internal/mock"
	"conduit/internal/telemetry"
	"conduit/sink"
	sinkkafka "conduit/sink/kafka"
	"conduit/source/kafka"
)

func TestSend_OffsetsIncrease(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		mp.ExpectSendMessageAndSucceed()
	}
	p := NewWithAdapter(sinkkafka.WrapSyncProducer(mp), time.Second)
	defer p.Close()

	last := int64(-1)
	for i := 0; i < 3; i++ {
		r, err := p.Send(context.Background(), "orders", []byte("k"), []byte("v"))
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if r.Offset <= last {
			t.Fatalf("offset %d not greater than previous %d", r.Offset, last)
		}
		last = r.Offset
	}
}

func TestSend_BrokerRejection(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := NewWithAdapter(sinkkafka.WrapSyncProducer(mp), time.Second)
	defer p.Close()

	if _, err := p.Send(context.Background(), "orders", nil, []byte("v")); !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("err = %v, want ErrNotLeaderForPartition", err)
	}
}

func TestSendJSON_EncodeErrorSendsNothing(t *testing.T) {
	s := mock.NewSink()
	p := NewWithAdapter(s, time.Second)

	_, err := p.SendJSON(context.Background(), "events", nil, map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("err = %v, want ErrEncode", err)
	}
	if n := len(s.Published()); n != 0 {
		t.Fatalf("published %d records after encode failure", n)
	}
}

func TestSendJSON_Encodes(t *testing.T) {
	s := mock.NewSink()
	p := NewWithAdapter(s, time.Second)

	if _, err := p.SendJSON(context.Background(), "events", []byte("1"), map[string]string{"id": "1"}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	got := s.Published()
	if len(got) != 1 || string(got[0].Value) != `{"id":"1"}` || string(got[0].Key) != "1" {
		t.Fatalf("published %+v", got)
	}
}

func TestSendJSON_UnreachableBroker(t *testing.T) {
	s := mock.NewSink()
	s.PublishErr = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	reg := prometheus.NewRegistry()
	p := NewWithAdapter(s, time.Second, WithMetrics(telemetry.NewMetrics(reg)))

	_, err := p.SendJSON(context.Background(), "events", nil, map[string]string{"id": "1"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "conduit_producer_publish_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("publish counter not recorded")
	}
}

// stuckSink never acknowledges; Publish returns when ctx ends.
type stuckSink struct{ mock.Sink }

func (*stuckSink) Publish(ctx context.Context, _ *sink.Record) (sink.Receipt, error) {
	<-ctx.Done()
	return sink.Receipt{}, ctx.Err()
}

func TestSend_DeliveryTimeout(t *testing.T) {
	p := NewWithAdapter(&stuckSink{}, 20*time.Millisecond)
	start := time.Now()
	_, err := p.Send(context.Background(), "orders", nil, []byte("v"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestSend_Concurrent(t *testing.T) {
	s := mock.NewSink()
	p := NewWithAdapter(s, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Send(context.Background(), "orders", nil, []byte("v")); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := len(s.Published()); n != 16 {
		t.Fatalf("published %d, want 16", n)
	}
}

func TestClose(t *testing.T) {
	s := mock.NewSink()
	p := NewWithAdapter(s, time.Second)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.IsClosed() {
		t.Fatal("sink not closed")
	}
	if _, err := p.Send(context.Background(), "orders", nil, []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close err = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNew_PrefersSinkNamedAfterDriver(t *testing.T) {
	s := mock.NewSink()
	kafka.Register("producer-test", func() kafka.Adapter { return mock.NewSource() })
	sink.Register("producer-test", func() sink.Adapter { return s })

	cfg := kafka.Config{Driver: "producer-test", Brokers: "b1:9092, b2:9092"}
	cfg.ApplyDefaults()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	sc, ok := s.Configured().(sinkkafka.Config)
	if !ok {
		t.Fatalf("sink configured with %T", s.Configured())
	}
	if len(sc.Brokers) != 2 || sc.Timeout != 5*time.Second {
		t.Fatalf("sink config = %+v", sc)
	}
}
