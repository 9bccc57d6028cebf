// Package telemetry pulls a metrics snapshot and the recorded traces once a workload has finished,
// and stores each payload verbatim inside a timestamped envelope.
package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const (
	KindMetrics = "metrics"
	KindTraces  = "traces"
)

// Envelope wraps one captured payload. RawData is the response body decoded as UTF-8;
// invalid byte sequences are written as U+FFFD.
type Envelope struct {
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	RawData     string `json:"rawData"`
}

// Targets are the base URLs, as reachable from the harness, of the two telemetry sources.
type Targets struct {
	MetricsBaseUrl string
	TracesBaseUrl  string
}

// SourceResult describes the outcome of capturing one source.
type SourceResult struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
	URI    string `json:"uri"`
	// Path of the written envelope; empty if nothing was written.
	File  string `json:"file,omitempty"`
	Bytes int    `json:"bytes"`
	Err   error  `json:"-"`
	// Err rendered for the run summary.
	Error string `json:"error,omitempty"`
}

func (r *SourceResult) Written() bool {
	return r != nil && r.File != ""
}

type CaptureResult struct {
	Metrics *SourceResult `json:"metrics"`
	Traces  *SourceResult `json:"traces"`
}

// Err combines the failures of both sources, or returns nil if both were written.
func (r *CaptureResult) Err() error {
	var result *multierror.Error
	for _, source := range []*SourceResult{r.Metrics, r.Traces} {
		if source != nil && source.Err != nil {
			result = multierror.Append(result, source.Err)
		}
	}
	return result.ErrorOrNil()
}

type Capturer struct {
	config  Config
	targets Targets
	client  *http.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCapturer(config Config, targets Targets, m *metrics.Metrics) *Capturer {
	return &Capturer{
		config:  config.withDefaults(),
		targets: targets,
		client:  &http.Client{},
		metrics: m,
		now:     time.Now,
	}
}

// MetricsURI is the URI the metrics snapshot is read from.
func (c *Capturer) MetricsURI() string {
	return strings.TrimSuffix(c.targets.MetricsBaseUrl, "/") + c.config.MetricsPath
}

// TracesURI is the trace search query, e.g. http://localhost:9411/api/v2/traces?lookback=1200000&limit=100
func (c *Capturer) TracesURI() string {
	query := url.Values{}
	query.Set("lookback", strconv.FormatInt(c.config.Lookback.Milliseconds(), 10))
	query.Set("limit", strconv.Itoa(c.config.Limit))
	return strings.TrimSuffix(c.targets.TracesBaseUrl, "/") + c.config.TracesPath + "?" + query.Encode()
}

// MetricsFile is the envelope path for the metrics snapshot within runDir.
func (c *Capturer) MetricsFile(runDir string) string {
	return filepath.Join(runDir, record.DataDir, fmt.Sprintf("raw-%s-metrics.json", c.config.MetricsSource))
}

// TracesFile is the envelope path for the traces within runDir.
func (c *Capturer) TracesFile(runDir string) string {
	return filepath.Join(runDir, record.DataDir, fmt.Sprintf("raw-%s-traces.json", c.config.TracesSource))
}

// Capture reads both sources concurrently and writes an envelope for each one that answered 200.
// Failures are logged and reported in the result, never returned: one source failing does not
// prevent the other from being written.
func (c *Capturer) Capture(ctx *runcontext.Context, runDir string) *CaptureResult {
	result := &CaptureResult{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		result.Traces = c.captureTraces(ctx, runDir)
	}()
	result.Metrics = c.capture(ctx, KindMetrics, c.config.MetricsSource, c.MetricsURI(), MetricsContentType, c.MetricsFile(runDir))
	<-done
	return result
}

func (c *Capturer) captureTraces(ctx *runcontext.Context, runDir string) *SourceResult {
	if c.config.SettleDelay > 0 {
		ctx.Log.Infof("Waiting %s for spans to reach the trace collector", c.config.SettleDelay)
		select {
		case <-time.After(c.config.SettleDelay):
		case <-ctx.Done():
			uri := c.TracesURI()
			err := errors.WithStack(&harnesserrors.ErrTelemetryCapture{Source: c.config.TracesSource, URI: uri, Cause: ctx.Err()})
			return c.failed(ctx, KindTraces, c.config.TracesSource, uri, err)
		}
	}
	return c.capture(ctx, KindTraces, c.config.TracesSource, c.TracesURI(), TracesContentType, c.TracesFile(runDir))
}

func (c *Capturer) capture(ctx *runcontext.Context, kind, source, uri, contentType, path string) *SourceResult {
	ctx = runcontext.WithLogFields(ctx, logrus.Fields{"telemetry": kind, "uri": uri})
	envelope, err := c.fetch(ctx, source, uri, contentType)
	if err != nil {
		return c.failed(ctx, kind, source, uri, err)
	}
	if err := record.WriteJSONFile(path, envelope); err != nil {
		err = errors.WithStack(&harnesserrors.ErrTelemetryCapture{Source: source, URI: uri, StatusCode: envelope.StatusCode, Cause: err})
		return c.failed(ctx, kind, source, uri, err)
	}
	c.metrics.RecordCapture(kind, source, len(envelope.RawData))
	ctx.Log.Infof("Captured %d bytes of %s %s into %s", len(envelope.RawData), source, kind, path)
	return &SourceResult{Kind: kind, Source: source, URI: uri, File: path, Bytes: len(envelope.RawData)}
}

func (c *Capturer) failed(ctx *runcontext.Context, kind, source, uri string, err error) *SourceResult {
	c.metrics.RecordCaptureFailure(kind, source)
	logging.WithStacktrace(ctx.Log, err).Warnf("Skipping %s %s", source, kind)
	return &SourceResult{Kind: kind, Source: source, URI: uri, Err: err, Error: err.Error()}
}

func (c *Capturer) fetch(ctx *runcontext.Context, source, uri, contentType string) (*Envelope, error) {
	fail := func(status int, cause error) error {
		return errors.WithStack(&harnesserrors.ErrTelemetryCapture{Source: source, URI: uri, StatusCode: status, Cause: cause})
	}
	reqCtx, cancel := runcontext.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fail(0, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, err)
	}
	return &Envelope{
		Timestamp:   c.now().Format(record.IsoLocalFormat),
		Source:      uri,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		RawData:     string(body),
	}, nil
}
