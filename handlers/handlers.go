// Package handlers holds ready-made handlers and the kind registry the
// service file refers to them by.
package handlers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"conduit/internal/handler"
)

// Factory builds a handler bound to topic. An empty topic selects the
// handler's default topic, if it has one.
type Factory func(topic string) (handler.Handler, error)

var (
	mu    sync.RWMutex
	kinds = map[string]Factory{}
)

func init() {
	Register("user_event", func(topic string) (handler.Handler, error) {
		if topic == "" {
			return nil, fmt.Errorf("handlers: user_event needs a topic")
		}
		return NewUserEventHandler(topic), nil
	})
	Register("text", func(topic string) (handler.Handler, error) {
		if topic == "" {
			return nil, fmt.Errorf("handlers: text needs a topic")
		}
		return NewTextHandler(topic), nil
	})
	Register("template", func(topic string) (handler.Handler, error) {
		return NewTemplateHandler(topic), nil
	})
}

// Register adds or replaces a handler kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	kinds[kind] = f
}

// New builds a handler of the given kind.
func New(kind, topic string) (handler.Handler, error) {
	mu.RLock()
	f, ok := kinds[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handlers: unknown kind %q (known: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return f(topic)
}

// Kinds lists the registered kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
