package kafka

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

func TestReaderConfig_StartOffset(t *testing.T) {
	cases := map[string]int64{
		OffsetEarliest: kafkago.FirstOffset,
		OffsetLatest:   kafkago.LastOffset,
		OffsetNone:     kafkago.LastOffset,
	}
	for reset, want := range cases {
		cfg := Config{AutoOffsetReset: reset}
		cfg.ApplyDefaults()
		if got := readerConfig(cfg, []string{"orders"}, nil).StartOffset; got != want {
			t.Errorf("%s: StartOffset = %d, want %d", reset, got, want)
		}
	}
}

func TestReaderConfig_Fields(t *testing.T) {
	cfg := Config{Brokers: "b1:9092, b2:9092", ConsumerGroupID: "g", CommitIntervalMS: 250}
	cfg.ApplyDefaults()
	topics := []string{"orders", "payments"}
	dialer := &kafkago.Dialer{ClientID: "conduit"}

	rc := readerConfig(cfg, topics, dialer)
	if !reflect.DeepEqual(rc.Brokers, []string{"b1:9092", "b2:9092"}) || rc.GroupID != "g" {
		t.Fatalf("brokers/group = %v/%q", rc.Brokers, rc.GroupID)
	}
	if rc.SessionTimeout != 6*time.Second || rc.CommitInterval != 250*time.Millisecond {
		t.Fatalf("timeouts = %v/%v", rc.SessionTimeout, rc.CommitInterval)
	}
	if rc.Dialer != dialer {
		t.Fatal("dialer not passed through")
	}
	topics[0] = "mutated"
	if rc.GroupTopics[0] != "orders" {
		t.Fatal("GroupTopics aliases the caller's slice")
	}
}

func TestFromKafkaGoMessage(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	rec := fromKafkaGoMessage(kafkago.Message{
		Topic:     "orders",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []kafkago.Header{{Key: "trace", Value: []byte("abc")}},
		Time:      ts,
	})
	if rec.Topic != "orders" || rec.Partition != 3 || rec.Offset != 42 {
		t.Fatalf("position = %s[%d]@%d", rec.Topic, rec.Partition, rec.Offset)
	}
	if string(rec.Key) != "k" || string(rec.Value) != "v" || !rec.Timestamp.Equal(ts) {
		t.Fatalf("record = %+v", rec)
	}
	if string(rec.Headers["trace"]) != "abc" {
		t.Fatalf("headers = %v", rec.Headers)
	}
	if _, ok := rec.ack.(kafkago.Message); !ok {
		t.Fatalf("ack = %T", rec.ack)
	}
	if fromKafkaGoMessage(kafkago.Message{}).Headers != nil {
		t.Fatal("no headers should map to nil")
	}
}

func TestKafkaGoDriver_Lifecycle(t *testing.T) {
	d := &KafkaGoDriver{}
	if _, err := d.Receive(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Receive before Subscribe = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := d.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after Close = %v", err)
	}
	if err := d.Subscribe([]string{"orders"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after Close = %v", err)
	}
}

func TestKafkaGoDriver_CommitForeignRecord(t *testing.T) {
	d := &KafkaGoDriver{}
	if err := d.Commit(&Record{Topic: "orders", Offset: 1}); err == nil {
		t.Fatal("expected error committing a record the driver did not produce")
	}
	if err := d.Commit(&Record{Topic: "orders", ack: &saramaAck{}}); err == nil {
		t.Fatal("expected error committing a sarama record")
	}
}

func TestKafkaGoDriver_ConfigureValidates(t *testing.T) {
	d := &KafkaGoDriver{}
	if err := d.Configure(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Configure(zero) = %v, want ErrInvalidConfig", err)
	}
}
