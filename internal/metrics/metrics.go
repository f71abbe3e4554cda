package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"utxo-diff-alerts/internal/logging"
)

const namespace = "utxowatcher"

// Poll results.
const (
	ResultOK        = "ok"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// Metrics groups the watcher collectors.
type Metrics struct {
	registry *prometheus.Registry

	TipHeight          prometheus.Gauge
	Polls              *prometheus.CounterVec
	Events             *prometheus.CounterVec
	FetchErrors        *prometheus.CounterVec
	DeliveryErrors     prometheus.Counter
	SubscriptionHeight *prometheus.GaugeVec
	UTXOCount          *prometheus.GaugeVec
	BalanceSats        *prometheus.GaugeVec
	PollDuration       prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_tip_height",
			Help:      "Last chain tip height reported by the data source.",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Per-address poll cycles by result.",
		}, []string{"result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Detected deposits and withdrawals.",
		}, []string{"kind"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed requests to the data source.",
		}, []string{"op"}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Failed notification deliveries.",
		}),
		SubscriptionHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_height",
			Help:      "Height of the last successful poll per address.",
		}, []string{"address"}),
		UTXOCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "utxo_count",
			Help:      "Outputs currently locked to the address.",
		}, []string{"address"}),
		BalanceSats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_sats",
			Help:      "Sum of the outputs locked to the address.",
		}, []string{"address"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one polling tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.TipHeight,
		m.Polls,
		m.Events,
		m.FetchErrors,
		m.DeliveryErrors,
		m.SubscriptionHeight,
		m.UTXOCount,
		m.BalanceSats,
		m.PollDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	log := logging.Component(logger, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
