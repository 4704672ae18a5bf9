package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/metrics"
)

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = c.(prometheus.Metric).Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	_ = gauge.(prometheus.Metric).Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(t *testing.T, hist *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	o, err := hist.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = o.(prometheus.Metric).Write(m)
	return m.GetHistogram().GetSampleCount()
}

// --- HTTP middleware tests ---

func TestHTTPMiddleware_RecordsRequestMetrics(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/healthz", "200")
	beforeHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/healthz")

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/healthz", "200")
	afterHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/healthz")

	assert.Equal(t, float64(1), afterCount-beforeCount)
	assert.Equal(t, uint64(1), afterHistCount-beforeHistCount)
}

func TestHTTPMiddleware_NormalizesOTLPPaths(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	// Session ids in OTLP paths must not explode label cardinality.
	before := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/otlp/v1/logs", "200")
	for _, sid := range []string{"sessionA", "sessionB"} {
		resp, err := http.Get(server.URL + "/otlp/" + sid + "/v1/logs")
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	after := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/otlp/v1/logs", "200")
	assert.Equal(t, float64(2), after-before)

	// Unknown paths group under /other.
	beforeOther := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	resp, err := http.Get(server.URL + "/nonexistent/thing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterOther := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	assert.Equal(t, float64(1), afterOther-beforeOther)
}

func TestHTTPMiddleware_RecordsStatus(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "404")

	resp, err := http.Get(server.URL + "/nonexistent")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "404")
	assert.Equal(t, float64(1), afterCount-beforeCount)
}

// --- Command instrumentation tests ---

func TestObserveCommand(t *testing.T) {
	before := getCounterValue(t, metrics.CommandsTotal, "session.claim", "completed")
	beforeHist := getHistogramCount(t, metrics.CommandDuration, "session.claim")

	metrics.ObserveCommand("session.claim", "completed", time.Now())

	after := getCounterValue(t, metrics.CommandsTotal, "session.claim", "completed")
	afterHist := getHistogramCount(t, metrics.CommandDuration, "session.claim")
	assert.Equal(t, float64(1), after-before)
	assert.Equal(t, uint64(1), afterHist-beforeHist)
}

// --- Gauge tests ---

func TestActiveSessionsGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.ActiveSessions)
	metrics.ActiveSessions.Inc()
	after := getGaugeValue(t, metrics.ActiveSessions)
	assert.Equal(t, float64(1), after-before)

	metrics.ActiveSessions.Dec()
	afterDec := getGaugeValue(t, metrics.ActiveSessions)
	assert.Equal(t, before, afterDec)
}

func TestActiveAttachmentsGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.ActiveAttachments)
	metrics.ActiveAttachments.Inc()
	after := getGaugeValue(t, metrics.ActiveAttachments)
	assert.Equal(t, float64(1), after-before)

	metrics.ActiveAttachments.Dec()
	afterDec := getGaugeValue(t, metrics.ActiveAttachments)
	assert.Equal(t, before, afterDec)
}

// --- Registry test ---

func TestMetricsRegistered(t *testing.T) {
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "should have registered metrics")
}
