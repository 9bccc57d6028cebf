package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const (
	prometheusText = "# HELP http_server_requests_seconds\nhttp_server_requests_seconds_count{uri=\"/api/benchmark/analyze\"} 2.0\n"
	zipkinJson     = `[[{"traceId":"abc","name":"post /api/benchmark/analyze"}]]`
)

func newRunDir(t *testing.T) string {
	runDir, err := record.NewWriter(t.TempDir(), "").CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	return runDir
}

func appServer(t *testing.T, status int) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actuator/prometheus" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(prometheusText))
	}))
	t.Cleanup(server.Close)
	return server
}

func zipkinServer(t *testing.T, status int, queries chan<- string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if queries != nil {
			queries <- r.URL.RawQuery
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(zipkinJson))
	}))
	t.Cleanup(server.Close)
	return server
}

func readEnvelope(t *testing.T, path string) Envelope {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

func TestCapture_BothSources(t *testing.T) {
	runDir := newRunDir(t)
	app := appServer(t, http.StatusOK)
	queries := make(chan string, 1)
	zipkin := zipkinServer(t, http.StatusOK, queries)

	capturer := NewCapturer(Config{}, Targets{MetricsBaseUrl: app.URL, TracesBaseUrl: zipkin.URL + "/"}, metrics.New())
	capturer.config.SettleDelay = 0
	capturer.now = func() time.Time { return time.Date(2026, 2, 8, 4, 40, 0, 0, time.Local) }

	result := capturer.Capture(runcontext.Background(), runDir)
	require.NoError(t, result.Err())
	assert.True(t, result.Metrics.Written())
	assert.True(t, result.Traces.Written())
	assert.Equal(t, "limit=100&lookback=1200000", <-queries)

	metricsEnvelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-prometheus-metrics.json"))
	assert.Equal(t, Envelope{
		Timestamp:   "2026-02-08T04:40:00.000000",
		Source:      app.URL + "/actuator/prometheus",
		StatusCode:  200,
		ContentType: "text/plain; version=0.0.4; charset=utf-8",
		RawData:     prometheusText,
	}, metricsEnvelope)

	tracesEnvelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-zipkin-traces.json"))
	assert.Equal(t, zipkin.URL+"/api/v2/traces?limit=100&lookback=1200000", tracesEnvelope.Source)
	assert.Equal(t, zipkinJson, tracesEnvelope.RawData)
	assert.Equal(t, len(zipkinJson), result.Traces.Bytes)
}

func TestCapture_MetricsFailureStillWritesTraces(t *testing.T) {
	runDir := newRunDir(t)
	app := appServer(t, http.StatusInternalServerError)
	zipkin := zipkinServer(t, http.StatusOK, nil)

	capturer := NewCapturer(Config{SettleDelay: time.Millisecond}, Targets{MetricsBaseUrl: app.URL, TracesBaseUrl: zipkin.URL}, nil)
	result := capturer.Capture(runcontext.Background(), runDir)

	assert.False(t, result.Metrics.Written())
	var captureErr *harnesserrors.ErrTelemetryCapture
	require.ErrorAs(t, result.Metrics.Err, &captureErr)
	assert.Equal(t, http.StatusInternalServerError, captureErr.StatusCode)
	assert.NoFileExists(t, filepath.Join(runDir, "data", "raw-prometheus-metrics.json"))

	assert.True(t, result.Traces.Written())
	envelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-zipkin-traces.json"))
	assert.Equal(t, "application/json", envelope.ContentType)
}

func TestCapture_RecordsFixedContentTypes(t *testing.T) {
	runDir := newRunDir(t)
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/openmetrics-text; version=1.0.0; charset=utf-8")
		_, _ = w.Write([]byte(prometheusText))
	}))
	t.Cleanup(app.Close)
	zipkin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(zipkinJson))
	}))
	t.Cleanup(zipkin.Close)

	capturer := NewCapturer(Config{SettleDelay: time.Millisecond}, Targets{MetricsBaseUrl: app.URL, TracesBaseUrl: zipkin.URL}, nil)
	result := capturer.Capture(runcontext.Background(), runDir)
	require.NoError(t, result.Err())

	metricsEnvelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-prometheus-metrics.json"))
	assert.Equal(t, MetricsContentType, metricsEnvelope.ContentType)
	tracesEnvelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-zipkin-traces.json"))
	assert.Equal(t, TracesContentType, tracesEnvelope.ContentType)
}

func TestCapture_InvalidUtf8IsReplaced(t *testing.T) {
	runDir := newRunDir(t)
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("up 1\xff\n"))
	}))
	t.Cleanup(app.Close)
	zipkin := zipkinServer(t, http.StatusOK, nil)

	capturer := NewCapturer(Config{SettleDelay: time.Millisecond}, Targets{MetricsBaseUrl: app.URL, TracesBaseUrl: zipkin.URL}, nil)
	result := capturer.Capture(runcontext.Background(), runDir)
	require.NoError(t, result.Err())

	envelope := readEnvelope(t, filepath.Join(runDir, "data", "raw-prometheus-metrics.json"))
	assert.Equal(t, "up 1\uFFFD\n", envelope.RawData)
}

func TestCapture_BothFailLeavesRecordIntact(t *testing.T) {
	writer := record.NewWriter(t.TempDir(), "")
	runDir, err := writer.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	one := 1
	require.NoError(t, writer.WriteMetadata(runDir, record.Metadata{Image: "a/b:c", Revision: "abc123", Iterations: &one, WarmupIterations: &one}))

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	zipkin := zipkinServer(t, http.StatusServiceUnavailable, nil)

	m := metrics.New()
	capturer := NewCapturer(Config{}, Targets{MetricsBaseUrl: closed.URL, TracesBaseUrl: zipkin.URL}, m)
	capturer.config.SettleDelay = 0
	result := capturer.Capture(runcontext.Background(), runDir)

	assert.Error(t, result.Err())
	assert.Equal(t, harnesserrors.StageCapture, harnesserrors.StageFromError(result.Metrics.Err))
	assert.NotEmpty(t, result.Traces.Error)

	entries, err := os.ReadDir(filepath.Join(runDir, "data"))
	require.NoError(t, err)
	names := []string{}
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"benchmark-metadata.json", "execution-summary.json"}, names)
	assert.Equal(t, 2.0, counterValue(t, m, "benchmark_capture_failures_total"))
}

func TestCapture_SettleDelayInterruptedByCancellation(t *testing.T) {
	runDir := newRunDir(t)
	app := appServer(t, http.StatusOK)
	zipkin := zipkinServer(t, http.StatusOK, nil)

	ctx, cancel := runcontext.WithCancel(runcontext.Background())
	cancel()
	capturer := NewCapturer(Config{SettleDelay: time.Hour}, Targets{MetricsBaseUrl: app.URL, TracesBaseUrl: zipkin.URL}, nil)

	start := time.Now()
	result := capturer.Capture(ctx, runDir)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, result.Traces.Written())
	assert.ErrorIs(t, result.Traces.Err, ctx.Err())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	var configErr *harnesserrors.ErrConfiguration
	assert.ErrorAs(t, Config{Limit: -1}.Validate(), &configErr)
	assert.ErrorAs(t, Config{SettleDelay: -time.Second}.Validate(), &configErr)
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
