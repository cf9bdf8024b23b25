package handlers

import (
	"context"
	"log/slog"

	"conduit/internal/handler"
	"conduit/internal/logging"
)

// TemplateTopic is the default topic of TemplateHandler.
const TemplateTopic = "template.events"

type TemplateMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// TemplateHandler is the starting point for new message families: it
// decodes a TemplateMessage and logs it.
type TemplateHandler struct {
	topic string
	log   *slog.Logger
}

// NewTemplateHandler binds to topic, or TemplateTopic when topic is empty.
func NewTemplateHandler(topic string) *TemplateHandler {
	if topic == "" {
		topic = TemplateTopic
	}
	return &TemplateHandler{topic: topic, log: logging.Component("template-handler")}
}

func (h *TemplateHandler) Topic() string { return h.topic }

func (h *TemplateHandler) Handle(_ context.Context, msg handler.Message) (handler.Action, error) {
	var m TemplateMessage
	if err := handler.DecodeJSON(msg.Value, &m); err != nil {
		h.log.Error("malformed template message", "offset", msg.Offset, "err", err)
		return handler.Reject, nil
	}
	if m.ID == "" {
		h.log.Error("template message without id", "offset", msg.Offset)
		return handler.Reject, nil
	}
	h.log.Info("processing template message",
		"message_id", m.ID, "content", m.Content, "timestamp", m.Timestamp)
	return handler.Consume, nil
}
