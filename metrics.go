package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeOK      = "ok"
	outcomeEmpty   = "empty"
	outcomeFailed  = "error"
	resultComplete = "complete"
	resultFailed   = "failed"
	resultRedirect = "redirect"
)

// Metrics counts checkout steps and attempts. Each instance owns its registry.
type Metrics struct {
	Registry  *prometheus.Registry
	Steps     *prometheus.CounterVec
	StepMS    *prometheus.HistogramVec
	Checkouts *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartpilot",
		Name:      "step_total",
		Help:      "Checkout and cart steps by outcome.",
	}, []string{"step", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cartpilot",
		Name:      "step_duration_ms",
		Help:      "Step latency in milliseconds.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"step"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartpilot",
		Name:      "checkout_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(steps, latency, checkouts)
	return &Metrics{Registry: reg, Steps: steps, StepMS: latency, Checkouts: checkouts}
}

func (m *Metrics) observeStep(step, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(step, outcome).Inc()
	m.StepMS.WithLabelValues(step).Observe(float64(time.Since(started).Milliseconds()))
}

func (m *Metrics) observeCheckout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}
