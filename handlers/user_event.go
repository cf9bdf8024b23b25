package handlers

import (
	"context"
	"log/slog"
	"time"

	"conduit/internal/handler"
	"conduit/internal/logging"
)

// MaxUserEventAge is how old a user event may be before it is skipped.
const MaxUserEventAge = 30 * 24 * time.Hour

var validEventTypes = map[string]bool{
	"login":    true,
	"logout":   true,
	"signup":   true,
	"purchase": true,
}

type UserEvent struct {
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// UserEventHandler consumes UserEvent JSON. Malformed payloads, events
// missing a field and unknown event types are rejected; stale events are
// skipped.
type UserEventHandler struct {
	topic string
	now   func() time.Time
	log   *slog.Logger
}

func NewUserEventHandler(topic string) *UserEventHandler {
	return &UserEventHandler{
		topic: topic,
		now:   time.Now,
		log:   logging.Component("user-event-handler"),
	}
}

func (h *UserEventHandler) Topic() string { return h.topic }

func (h *UserEventHandler) Transform(payload []byte) ([]byte, error) {
	return handler.Identity(payload)
}

func (h *UserEventHandler) Handle(_ context.Context, msg handler.Message) (handler.Action, error) {
	log := h.log.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	if msg.Key != nil {
		log.Debug("processing keyed message", "key", string(msg.Key))
	}

	var ev UserEvent
	if err := handler.DecodeJSON(msg.Value, &ev); err != nil {
		log.Error("malformed user event", "err", err)
		return handler.Reject, nil
	}
	if ev.UserID == "" || ev.EventType == "" || ev.Timestamp == 0 {
		log.Error("user event missing required fields", "user_id", ev.UserID, "event_type", ev.EventType, "timestamp", ev.Timestamp)
		return handler.Reject, nil
	}
	log = log.With("user_id", ev.UserID, "event_type", ev.EventType)

	age := h.now().Sub(time.Unix(ev.Timestamp, 0))
	if age > MaxUserEventAge {
		log.Warn("user event too old, skipping", "age_days", int(age.Hours()/24))
		return handler.Skip, nil
	}
	if !validEventTypes[ev.EventType] {
		log.Warn("invalid event type, rejecting")
		return handler.Reject, nil
	}
	log.Info("user event processed")
	return handler.Consume, nil
}
