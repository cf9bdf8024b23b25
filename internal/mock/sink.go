package mock

import (
	"context"
	"sync"

	"conduit/sink"
)

// Sink is a test double for sink.Adapter. Every topic has a single
// partition whose offsets start at zero.
type Sink struct {
	ConfigureErr error
	PublishErr   error

	mu         sync.Mutex
	configured any
	published  []sink.Record
	next       map[string]int64
	closed     bool
}

func NewSink() *Sink {
	return &Sink{next: make(map[string]int64)}
}

func (s *Sink) Configure(cfg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = cfg
	return s.ConfigureErr
}

func (s *Sink) Publish(ctx context.Context, rec *sink.Record) (sink.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return sink.Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PublishErr != nil {
		return sink.Receipt{}, s.PublishErr
	}
	s.published = append(s.published, *rec)
	off := s.next[rec.Topic]
	s.next[rec.Topic] = off + 1
	return sink.Receipt{Partition: 0, Offset: off}, nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Published returns every record accepted by Publish.
func (s *Sink) Published() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sink.Record, len(s.published))
	copy(out, s.published)
	return out
}

func (s *Sink) Configured() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

func (s *Sink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
