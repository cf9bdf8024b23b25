package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"conduit/internal/handler"
)

func userEventMsg(t *testing.T, ev UserEvent) handler.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return handler.Message{Topic: "user-events", Offset: 1, Value: b}
}

func TestUserEventHandler(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := NewUserEventHandler("user-events")
	h.now = func() time.Time { return now }

	cases := []struct {
		name string
		msg  handler.Message
		want handler.Action
	}{
		{"valid", userEventMsg(t, UserEvent{UserID: "user123", EventType: "login", Timestamp: now.Unix()}), handler.Consume},
		{"purchase with key", func() handler.Message {
			m := userEventMsg(t, UserEvent{UserID: "u", EventType: "purchase", Timestamp: now.Unix() - 60})
			m.Key = []byte("u")
			return m
		}(), handler.Consume},
		{"invalid type", userEventMsg(t, UserEvent{UserID: "user123", EventType: "invalid_type", Timestamp: now.Unix()}), handler.Reject},
		{"too old", userEventMsg(t, UserEvent{UserID: "user123", EventType: "login", Timestamp: 1_000_000}), handler.Skip},
		{"old and invalid", userEventMsg(t, UserEvent{UserID: "u", EventType: "nope", Timestamp: 1_000_000}), handler.Skip},
		{"malformed", handler.Message{Topic: "user-events", Value: []byte("{not json")}, handler.Reject},
		{"empty object", handler.Message{Topic: "user-events", Value: []byte("{}")}, handler.Reject},
		{"null", handler.Message{Topic: "user-events", Value: []byte("null")}, handler.Reject},
		{"no timestamp", handler.Message{Topic: "user-events", Value: []byte(`{"user_id":"u","event_type":"login"}`)}, handler.Reject},
		{"no user", userEventMsg(t, UserEvent{EventType: "login", Timestamp: now.Unix()}), handler.Reject},
		{"no event type", userEventMsg(t, UserEvent{UserID: "u", Timestamp: now.Unix()}), handler.Reject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.Handle(context.Background(), tc.msg)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if got != tc.want {
				t.Fatalf("action = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUserEventHandler_TransformIsIdentity(t *testing.T) {
	h := NewUserEventHandler("user-events")
	out, err := h.Transform([]byte("abc"))
	if err != nil || string(out) != "abc" {
		t.Fatalf("Transform = %q, %v", out, err)
	}
}

func TestTextHandler(t *testing.T) {
	h := NewTextHandler("messages")
	cases := []struct {
		payload []byte
		want    handler.Action
	}{
		{[]byte("Hello, World!"), handler.Consume},
		{[]byte("   "), handler.Skip},
		{[]byte{}, handler.Skip},
		{[]byte{0xff, 0xfe}, handler.Reject},
	}
	for _, tc := range cases {
		got, err := h.Handle(context.Background(), handler.Message{Topic: "messages", Value: tc.payload})
		if err != nil {
			t.Fatalf("Handle(%q): %v", tc.payload, err)
		}
		if got != tc.want {
			t.Fatalf("Handle(%q) = %v, want %v", tc.payload, got, tc.want)
		}
	}
}

func TestTemplateHandler(t *testing.T) {
	h := NewTemplateHandler("")
	if h.Topic() != TemplateTopic {
		t.Fatalf("topic = %q", h.Topic())
	}
	ok := []byte(`{"id":"123","content":"test","timestamp":1234567890}`)
	if got, _ := h.Handle(context.Background(), handler.Message{Value: ok}); got != handler.Consume {
		t.Fatalf("valid message: %v", got)
	}
	for _, bad := range []string{"nope", "{}", "null", `{"content":"x","timestamp":1}`} {
		if got, _ := h.Handle(context.Background(), handler.Message{Value: []byte(bad)}); got != handler.Reject {
			t.Fatalf("Handle(%s) = %v, want reject", bad, got)
		}
	}
}

func TestNew(t *testing.T) {
	h, err := New("text", "messages")
	if err != nil || h.Topic() != "messages" {
		t.Fatalf("New(text) = %v, %v", h, err)
	}
	if h, err := New("template", ""); err != nil || h.Topic() != TemplateTopic {
		t.Fatalf("New(template) = %v, %v", h, err)
	}
	if _, err := New("user_event", ""); err == nil {
		t.Fatal("user_event without topic should fail")
	}
	if _, err := New("xml", "t"); err == nil || !strings.Contains(err.Error(), "user_event") {
		t.Fatalf("unknown kind error should list known kinds, got %v", err)
	}
	if got := Kinds(); len(got) != 3 || got[0] != "template" {
		t.Fatalf("Kinds = %v", got)
	}
}
