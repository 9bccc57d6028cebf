// Package metrics records how long each part of a benchmark run took, for comparing harness
// overhead between runs. The registry is dumped into the run record rather than served.
package metrics

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const MetricPrefix = "benchmark_"

// Metrics is safe for concurrent use. All methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry
	// Also dumped, e.g. the default registry holding log line counters.
	extra []prometheus.Gatherer

	phaseDuration        *prometheus.GaugeVec
	serviceStartDuration *prometheus.GaugeVec
	serviceReadyDuration *prometheus.GaugeVec
	serviceStops         *prometheus.CounterVec
	workloadLines        prometheus.Counter
	workloadExitCode     prometheus.Gauge
	capturedBytes        *prometheus.GaugeVec
	captureFailures      *prometheus.CounterVec
}

func New(extra ...prometheus.Gatherer) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extra:    extra,
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPrefix + "phase_duration_seconds",
			Help: "Wall clock time spent in each phase of the run",
		}, []string{"phase"}),
		serviceStartDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPrefix + "service_start_seconds",
			Help: "Time taken to create and start a service",
		}, []string{"service"}),
		serviceReadyDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPrefix + "service_ready_seconds",
			Help: "Time from a service starting until its readiness condition held",
		}, []string{"service"}),
		serviceStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "service_stops_total",
			Help: "Service stop attempts by result",
		}, []string{"service", "result"}),
		workloadLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "workload_output_lines_total",
			Help: "Lines of output read from the workload",
		}),
		workloadExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "workload_exit_code",
			Help: "Exit code of the workload, -1 if it was still running when completion was detected",
		}),
		capturedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPrefix + "captured_bytes",
			Help: "Size of the raw telemetry payload captured per source",
		}, []string{"kind", "source"}),
		captureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "capture_failures_total",
			Help: "Telemetry captures that were skipped",
		}, []string{"kind", "source"}),
	}
	m.registry.MustRegister(
		m.phaseDuration,
		m.serviceStartDuration,
		m.serviceReadyDuration,
		m.serviceStops,
		m.workloadLines,
		m.workloadExitCode,
		m.capturedBytes,
		m.captureFailures,
	)
	return m
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Set(d.Seconds())
}

func (m *Metrics) ObserveServiceStart(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.serviceStartDuration.WithLabelValues(service).Set(d.Seconds())
}

func (m *Metrics) ObserveServiceReady(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.serviceReadyDuration.WithLabelValues(service).Set(d.Seconds())
}

func (m *Metrics) RecordServiceStop(service string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.serviceStops.WithLabelValues(service, result).Inc()
}

func (m *Metrics) RecordWorkloadLine() {
	if m == nil {
		return
	}
	m.workloadLines.Inc()
}

func (m *Metrics) RecordWorkloadExit(code int64) {
	if m == nil {
		return
	}
	m.workloadExitCode.Set(float64(code))
}

func (m *Metrics) RecordCapture(kind, source string, bytes int) {
	if m == nil {
		return
	}
	m.capturedBytes.WithLabelValues(kind, source).Set(float64(bytes))
}

func (m *Metrics) RecordCaptureFailure(kind, source string) {
	if m == nil {
		return
	}
	m.captureFailures.WithLabelValues(kind, source).Inc()
}

// Gather collects the harness metrics and any extra gatherers.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	gatherers := prometheus.Gatherers{m.registry}
	gatherers = append(gatherers, m.extra...)
	families, err := gatherers.Gather()
	return families, errors.WithStack(err)
}

// WriteTextFile writes all gathered metrics to path in the prometheus text exposition format.
func (m *Metrics) WriteTextFile(path string) error {
	if m == nil {
		return nil
	}
	families, err := m.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	encoder := expfmt.NewEncoder(f, expfmt.FmtText)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(f.Close())
}
