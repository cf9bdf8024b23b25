package kafka

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unconfigured Adapter.
type Factory func() Adapter

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func init() {
	Register(DriverSarama, func() Adapter { return &SaramaDriver{} })
	Register(DriverKafkaGo, func() Adapter { return &KafkaGoDriver{} })
}

// Register makes a driver available to NewAdapter. Registering a name twice
// replaces the previous factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// NewAdapter returns a driver by name ("sarama", "kafka-go", …).
func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, name, strings.Join(Drivers(), ", "))
	}
	return f(), nil
}

// Drivers lists registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func registered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}
