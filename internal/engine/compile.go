package engine

import (
	"fmt"

	"conduit/handlers"
	"conduit/internal/config"
	"conduit/internal/handler"
)

// compileHandlers turns the handler section of a service file into
// handlers. Two entries resolving to the same topic are rejected, since the
// consumer would silently keep only the last.
func compileHandlers(specs []config.HandlerSpec) ([]handler.Handler, error) {
	out := make([]handler.Handler, 0, len(specs))
	seen := make(map[string]string, len(specs))
	for i, s := range specs {
		h, err := handlers.New(s.Kind, s.Topic)
		if err != nil {
			return nil, fmt.Errorf("handlers[%d]: %w", i, err)
		}
		if prev, dup := seen[h.Topic()]; dup {
			return nil, fmt.Errorf("handlers[%d]: topic %q already bound to %s", i, h.Topic(), prev)
		}
		seen[h.Topic()] = s.Kind
		out = append(out, h)
	}
	return out, nil
}
