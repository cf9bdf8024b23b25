package kafka

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Receive once the adapter has been closed.
	ErrClosed = errors.New("kafka: adapter closed")
	// ErrNotSubscribed is returned by Receive before Subscribe was called.
	ErrNotSubscribed = errors.New("kafka: receive before subscribe")
)

// Record is one message pulled from the broker. ack carries the
// driver-specific handle Commit needs; records are only committable through
// the adapter that produced them.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time

	ack any
}

// Adapter is the broker client the consumer loop drives. Implementations are
// used from a single goroutine except Close, which may race with Receive.
type Adapter interface {
	// Configure connects to the cluster. Auto-commit is always disabled.
	Configure(Config) error
	// Subscribe replaces the subscription with exactly topics.
	Subscribe(topics []string) error
	// Receive blocks until the next record, an error, or ctx is done.
	Receive(ctx context.Context) (*Record, error)
	// Commit stores rec's offset for the group. Delivery of the commit to the
	// broker may be asynchronous; failures after return are only logged.
	Commit(rec *Record) error
	Close() error
}
