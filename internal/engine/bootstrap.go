package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/manager"
	"conduit/internal/telemetry"
	"conduit/source/kafka"
)

// Bootstrap loads the service file at path and wires tracing, metrics, the
// manager and the configured handlers. Nothing runs until Run.
func Bootstrap(ctx context.Context, path string) (*Engine, error) {
	svc, err := config.LoadServiceSpec(path)
	if err != nil {
		return nil, err
	}
	kc, err := config.LoadKafkaConfig(svc)
	if err != nil {
		return nil, fmt.Errorf("kafka config: %w", err)
	}
	return Compose(ctx, svc, kc)
}

// Compose is Bootstrap for already loaded configuration.
func Compose(ctx context.Context, svc config.Service, kc kafka.Config) (*Engine, error) {
	// 1. handlers, before anything connects
	hs, err := compileHandlers(svc.Handlers)
	if err != nil {
		return nil, err
	}

	// 2. telemetry
	shutdown, err := telemetry.InitTracer(ctx, svc.Tracing)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	// 3. broker integration
	mgr, err := manager.New(kc, manager.WithMetrics(metrics))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	for _, h := range hs {
		mgr.RegisterHandler(h)
		logging.L().Info("handler registered", "topic", h.Topic())
	}

	return &Engine{
		svc:            svc,
		mgr:            mgr,
		reg:            reg,
		shutdownTracer: shutdown,
	}, nil
}
