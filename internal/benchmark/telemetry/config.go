package telemetry

import (
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

const (
	DefaultMetricsSource = "prometheus"
	DefaultMetricsPath   = "/actuator/prometheus"
	DefaultTracesSource  = "zipkin"
	DefaultTracesPath    = "/api/v2/traces"

	DefaultLookback       = 1200000 * time.Millisecond
	DefaultLimit          = 100
	DefaultSettleDelay    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	// Recorded in the envelopes regardless of the Content-Type header the source sends.
	MetricsContentType = "text/plain; version=0.0.4; charset=utf-8"
	TracesContentType  = "application/json"
)

// Config controls what is captured from the application and the trace collector.
type Config struct {
	// Name used in raw-<name>-metrics.json
	MetricsSource string
	MetricsPath   string
	// Name used in raw-<name>-traces.json
	TracesSource string
	TracesPath   string
	// How far back the trace query looks, sent as milliseconds.
	Lookback time.Duration
	// Maximum number of traces returned by the collector.
	Limit int
	// Wait before querying the collector so that spans exported asynchronously have landed.
	// This is a heuristic: slow collectors may need more.
	SettleDelay time.Duration
	// Applies to each HTTP request separately.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MetricsSource == "" {
		c.MetricsSource = DefaultMetricsSource
	}
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if c.TracesSource == "" {
		c.TracesSource = DefaultTracesSource
	}
	if c.TracesPath == "" {
		c.TracesPath = DefaultTracesPath
	}
	if c.Lookback == 0 {
		c.Lookback = DefaultLookback
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Validate rejects negative durations and limits. Zero values mean "use the default".
func (c Config) Validate() error {
	switch {
	case c.Lookback < 0:
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "telemetry.lookback", Value: c.Lookback.String(), Message: "must not be negative"})
	case c.Limit < 0:
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "telemetry.limit", Value: c.Limit, Message: "must not be negative"})
	case c.SettleDelay < 0:
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "telemetry.settleDelay", Value: c.SettleDelay.String(), Message: "must not be negative"})
	case c.RequestTimeout < 0:
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "telemetry.requestTimeout", Value: c.RequestTimeout.String(), Message: "must not be negative"})
	}
	return nil
}
