package mock

import (
	"context"
	"sync"
	"time"

	"conduit/source/kafka"
)

// Source is a test double for kafka.Adapter. Records pushed with Deliver are
// handed out by Receive in order.
type Source struct {
	ConfigureErr error
	SubscribeErr error
	CommitErr    error

	ch chan delivery

	mu         sync.Mutex
	configured *kafka.Config
	subscribed [][]string
	commits    []kafka.Record
	receives   int
	closed     bool
	done       chan struct{}
}

type delivery struct {
	rec *kafka.Record
	err error
}

func NewSource() *Source {
	return &Source{
		ch:   make(chan delivery, 64),
		done: make(chan struct{}),
	}
}

func (s *Source) Configure(cfg kafka.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = &cfg
	return s.ConfigureErr
}

func (s *Source) Subscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return s.SubscribeErr
	}
	s.subscribed = append(s.subscribed, append([]string(nil), topics...))
	return nil
}

func (s *Source) Receive(ctx context.Context) (*kafka.Record, error) {
	s.mu.Lock()
	s.receives++
	s.mu.Unlock()
	select {
	case d := <-s.ch:
		return d.rec, d.err
	case <-s.done:
		return nil, kafka.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) Commit(rec *kafka.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, *rec)
	return s.CommitErr
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Deliver queues rec for Receive.
func (s *Source) Deliver(rec kafka.Record) {
	s.ch <- delivery{rec: &rec}
}

// Fail makes the next Receive return err.
func (s *Source) Fail(err error) {
	s.ch <- delivery{err: err}
}

// WaitReceives blocks until Receive has been entered at least n times. The
// loop only calls Receive again once the previous record is fully handled,
// so n = delivered+1 means every delivered record has been dispatched.
func (s *Source) WaitReceives(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := s.receives
		s.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// Commits returns the committed records in commit order.
func (s *Source) Commits() []kafka.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kafka.Record, len(s.commits))
	copy(out, s.commits)
	return out
}

// Subscriptions returns the topic sets passed to Subscribe, one per call.
func (s *Source) Subscriptions() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

// Configured returns the config passed to Configure, or nil.
func (s *Source) Configured() *kafka.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

func (s *Source) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
