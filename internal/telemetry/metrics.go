package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conduit/internal/logging"
)

// Metrics holds the collectors of one consumer/producer pair. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	messages       *prometheus.CounterVec
	handleLatency  *prometheus.HistogramVec
	receiveErrors  prometheus.Counter
	commitErrors   *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Registering twice with the
// same registry panics, as promauto does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Messages dispatched by the consumer loop, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		handleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Subsystem: "consumer",
			Name:      "handle_seconds",
			Help:      "Time spent inside handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		receiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "consumer",
			Name:      "receive_errors_total",
			Help:      "Failed receive calls.",
		}),
		commitErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "consumer",
			Name:      "commit_errors_total",
			Help:      "Commits the driver refused.",
		}, []string{"topic"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "producer",
			Name:      "publish_total",
			Help:      "Publish attempts, by topic and result.",
		}, []string{"topic", "result"}),
		publishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Subsystem: "producer",
			Name:      "publish_seconds",
			Help:      "Time until the broker acknowledged or the send failed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// Outcome labels for conduit_consumer_messages_total besides the action names.
const (
	OutcomeUnrouted = "unrouted"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

func (m *Metrics) Message(topic, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) HandleDuration(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.handleLatency.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.receiveErrors.Inc()
}

func (m *Metrics) CommitError(topic string) {
	if m == nil {
		return
	}
	m.commitErrors.WithLabelValues(topic).Inc()
}

// Publish records one send; result is "ok" or "error".
func (m *Metrics) Publish(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(topic, result).Inc()
	m.publishLatency.WithLabelValues(topic).Observe(d.Seconds())
}

// Expose serves g on :port/metrics until ctx is done.
func Expose(ctx context.Context, port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logging.L().Info("metrics listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
