package engine

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/manager"
	"conduit/internal/telemetry"
)

// ErrConsumerStopped is returned by Run when the receive loop exits while
// the engine is still meant to run, e.g. because the adapter was closed.
var ErrConsumerStopped = errors.New("engine: consumer stopped")

type Engine struct {
	svc            config.Service
	mgr            *manager.Manager
	reg            *prometheus.Registry
	shutdownTracer func(context.Context) error
}

// Manager exposes the broker integration, e.g. for publishing.
func (e *Engine) Manager() *manager.Manager { return e.mgr }

// Run starts the consumer and the metrics endpoint and blocks until ctx is
// cancelled or one of them fails. Everything is released before it returns.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.svc.MetricsPort > 0 {
		g.Go(func() error { return telemetry.Expose(gctx, e.svc.MetricsPort, e.reg) })
	}

	if task := e.mgr.StartConsumer(gctx); task != nil {
		g.Go(func() error {
			<-task.Done()
			if gctx.Err() == nil {
				return ErrConsumerStopped
			}
			return nil
		})
	} else if e.mgr.IsEnabled() {
		logging.L().Warn("consumer not running; serving without it")
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if cerr := e.mgr.Close(); cerr != nil {
		logging.L().Warn("closing kafka manager", "err", cerr)
	}
	if terr := e.shutdownTracer(context.Background()); terr != nil {
		logging.L().Warn("tracer shutdown", "err", terr)
	}
	return err
}
