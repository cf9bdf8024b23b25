package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownSink is returned by NewAdapter for unregistered driver names.
var ErrUnknownSink = errors.New("sink: unknown driver")

// Record is one message to publish. A nil Key publishes without a key.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// Receipt is where the broker stored a published record.
type Receipt struct {
	Partition int32
	Offset    int64
}

// Adapter is the common behaviour every publishing driver exposes.
// Publish must be safe for concurrent use.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Publish(ctx context.Context, rec *Record) (Receipt, error)
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	reg[name] = f
	mu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSink, name)
}
