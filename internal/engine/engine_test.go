package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/mock"
	"conduit/sink"
	"conduit/source/kafka"
)

func TestCompileHandlers(t *testing.T) {
	hs, err := compileHandlers([]config.HandlerSpec{
		{Kind: "user_event", Topic: "user-events"},
		{Kind: "template"},
	})
	if err != nil {
		t.Fatalf("compileHandlers: %v", err)
	}
	if len(hs) != 2 || hs[0].Topic() != "user-events" || hs[1].Topic() != "template.events" {
		t.Fatalf("handlers = %v", hs)
	}

	_, err = compileHandlers([]config.HandlerSpec{
		{Kind: "text", Topic: "t"},
		{Kind: "user_event", Topic: "t"},
	})
	if err == nil {
		t.Fatal("expected duplicate topic error")
	}
	if _, err := compileHandlers([]config.HandlerSpec{{Kind: "csv", Topic: "t"}}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestBootstrap_DisabledRunsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	svc := filepath.Join(dir, "service.yml")
	if err := os.WriteFile(svc, []byte("handlers: [{kind: text, topic: messages}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAFKA_ENABLED", "false")

	e, err := Bootstrap(context.Background(), svc)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if e.Manager().IsEnabled() {
		t.Fatal("manager should be disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ConsumesAndReportsStoppedConsumer(t *testing.T) {
	src, snk := mock.NewSource(), mock.NewSink()
	kafka.Register("engine-test", func() kafka.Adapter { return src })
	sink.Register("engine-test", func() sink.Adapter { return snk })

	kc := kafka.Config{Enabled: true, Driver: "engine-test"}
	kc.ApplyDefaults()
	e, err := Compose(context.Background(), config.Service{
		Handlers: []config.HandlerSpec{{Kind: "text", Topic: "messages"}},
	}, kc)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()

	src.Deliver(kafka.Record{Topic: "messages", Offset: 4, Value: []byte("hi")})
	if !src.WaitReceives(2, 2*time.Second) {
		t.Fatal("record not dispatched")
	}
	if c := src.Commits(); len(c) != 1 || c[0].Offset != 4 {
		t.Fatalf("commits = %+v", c)
	}

	_ = src.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrConsumerStopped) {
			t.Fatalf("Run err = %v, want ErrConsumerStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored stopped consumer")
	}
	if !snk.IsClosed() {
		t.Fatal("producer not closed")
	}
}
