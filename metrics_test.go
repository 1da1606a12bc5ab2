package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	started := time.Now()

	m.observeStep(stepInitTransaction, outcomeOK, started)
	m.observeStep(stepInitTransaction, outcomeEmpty, started)
	m.observeStep(stepInitTransaction, outcomeEmpty, started)
	m.observeCheckout(resultRedirect)

	assert.Equal(t, 1.0, counterValue(t, m.Steps.WithLabelValues(stepInitTransaction, outcomeOK)))
	assert.Equal(t, 2.0, counterValue(t, m.Steps.WithLabelValues(stepInitTransaction, outcomeEmpty)))
	assert.Equal(t, 1.0, counterValue(t, m.Checkouts.WithLabelValues(resultRedirect)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StepMS))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.observeStep(stepFinalize, outcomeOK, time.Now())
	m.observeCheckout(resultComplete)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.observeCheckout(resultComplete)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cartpilot_checkout_total{result="complete"} 1`)
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.observeCheckout(resultFailed)
	assert.Zero(t, counterValue(t, b.Checkouts.WithLabelValues(resultFailed)))
}
