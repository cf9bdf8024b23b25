// Package handler defines the contract business logic implements to receive
// messages from the consumer loop. The loop knows nothing about payload
// schemas; it looks a Handler up by topic and acts on the returned Action.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action is the fate a handler chooses for a message.
type Action int

const (
	// Consume marks the message processed; its offset is committed.
	Consume Action = iota
	// Skip leaves the offset uncommitted so the broker redelivers it later.
	Skip
	// Reject discards the message permanently; its offset is committed.
	Reject
)

func (a Action) String() string {
	switch a {
	case Consume:
		return "consume"
	case Skip:
		return "skip"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Commits reports whether the offset of a message handled with a is committed.
func (a Action) Commits() bool { return a == Consume || a == Reject }

// Message is one record delivered to a handler. It is only valid for the
// duration of the Handle call.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte // nil when the record has no key
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
}

// Handler processes messages of exactly one topic.
//
// Handle must not block indefinitely: the consumer invokes handlers one at a
// time, so a stuck handler stalls every topic of that consumer. An error
// return is a processing failure, not an Action; the offset is left
// uncommitted.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, msg Message) (Action, error)
}

// Transformer is implemented by handlers that pre-process payloads before
// Handle sees them, e.g. to unwrap an envelope shared by a message family.
// Handlers that do not implement it receive the payload unchanged.
type Transformer interface {
	Transform(payload []byte) ([]byte, error)
}

// Identity is the default transform.
func Identity(payload []byte) ([]byte, error) { return payload, nil }

// ErrMalformed wraps payload decoding failures so handlers can tell a poison
// message (usually Reject) apart from a transient failure.
var ErrMalformed = errors.New("handler: malformed payload")

// DecodeJSON unmarshals payload into v.
func DecodeJSON(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Func adapts a plain function into a Handler bound to topic.
//
//	h := handler.Func("orders", func(ctx context.Context, m handler.Message) (handler.Action, error) {
//	    return handler.Consume, nil
//	})
func Func(topic string, fn func(ctx context.Context, msg Message) (Action, error)) Handler {
	return &funcHandler{topic: topic, fn: fn}
}

type funcHandler struct {
	topic string
	fn    func(ctx context.Context, msg Message) (Action, error)
}

func (h *funcHandler) Topic() string { return h.topic }

func (h *funcHandler) Handle(ctx context.Context, msg Message) (Action, error) {
	return h.fn(ctx, msg)
}
