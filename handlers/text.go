package handlers

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"conduit/internal/handler"
	"conduit/internal/logging"
)

// TextHandler consumes UTF-8 text. Invalid encodings are rejected and blank
// messages skipped.
type TextHandler struct {
	topic string
	log   *slog.Logger
}

func NewTextHandler(topic string) *TextHandler {
	return &TextHandler{topic: topic, log: logging.Component("text-handler")}
}

func (h *TextHandler) Topic() string { return h.topic }

func (h *TextHandler) Handle(_ context.Context, msg handler.Message) (handler.Action, error) {
	log := h.log.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	if !utf8.Valid(msg.Value) {
		log.Error("invalid UTF-8 in message")
		return handler.Reject, nil
	}
	text := string(msg.Value)
	if strings.TrimSpace(text) == "" {
		return handler.Skip, nil
	}
	log.Info("text message processed", "message", text)
	return handler.Consume, nil
}
