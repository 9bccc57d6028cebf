// Package harness runs one benchmark end to end: services up, workload, run record, telemetry, teardown.
package harness

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/configuration"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runindex"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/scheduler"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/supervisor"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/telemetry"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/workload"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/health"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const (
	RunSummaryFile     = "run-summary.json"
	HarnessMetricsFile = "harness-metrics.prom"
	WorkloadLogFile    = "workload.log"
)

type Options struct {
	RunId string
	// Checks that must pass before anything is started, e.g. that the docker engine is reachable.
	Preflight []health.Checker
	// Receives workload output. Defaults to echoing it to stdout.
	Observer workload.Observer
	// Variables for ${NAME} references in the config. Defaults to the process environment.
	Environ func(string) (string, bool)
	// Stop all services when SIGINT or SIGTERM is received.
	HandleSignals bool
	Metrics       *metrics.Metrics
	// Where the keep-services notice is printed. Defaults to stdout.
	Out io.Writer
	Now func() time.Time
}

// Result describes a finished run, successful or not.
type Result struct {
	RunId     string
	Timestamp string
	// Empty if the run failed before the record was created.
	RunDir     string
	Stage      harnesserrors.Stage
	Outcome    *workload.Outcome
	Capture    *telemetry.CaptureResult
	StartedAt  time.Time
	FinishedAt time.Time
}

type Harness struct {
	config  *configuration.BenchmarkConfig
	runtime runtime.Runtime
	options Options
	writer  *record.Writer
}

func New(config *configuration.BenchmarkConfig, rt runtime.Runtime, options Options) *Harness {
	if options.Environ == nil {
		options.Environ = os.LookupEnv
	}
	if options.Out == nil {
		options.Out = os.Stdout
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Harness{
		config:  config,
		runtime: rt,
		options: options,
		writer:  record.NewWriter(config.Results.Root, config.Results.Kind),
	}
}

// Run performs the benchmark. Services are always stopped before Run returns, whatever failed.
// The returned error identifies the failed stage through harnesserrors.StageFromError.
func (h *Harness) Run(ctx *runcontext.Context) (result *Result, err error) {
	result = &Result{RunId: h.options.RunId, StartedAt: h.options.Now()}
	ctx = runcontext.WithLogField(ctx, "run", h.options.RunId)

	index := h.openIndex(ctx)
	defer func() {
		result.FinishedAt = h.options.Now()
		if err != nil {
			result.Stage = harnesserrors.StageFromError(err)
			logging.WithStacktrace(ctx.Log, err).Errorf("Benchmark failed during %s stage", result.Stage)
		}
		h.recordInIndex(ctx, index, result, err)
	}()

	phase := h.phaseTimer()
	specs, workloadConfig, err := Resolve(h.config, h.options.Environ)
	if err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
	}
	if err := h.preflight(index); err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageStartup)
	}
	phase("preflight")

	sup := supervisor.New(h.runtime, supervisor.Options{StopTimeout: h.config.Teardown.StopTimeout, Metrics: h.options.Metrics})
	if h.options.HandleSignals {
		ctx = sup.InstallSignalHandler(ctx)
	}
	defer func() {
		sup.StopAll()
		phase("teardown")
	}()

	if err := sup.StartAll(ctx, specs); err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageStartup)
	}
	phase("startup")

	app, _ := sup.Service(h.config.Application.Service)
	target, err := h.workloadTarget(app, workloadConfig.Mode)
	if err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageStartup)
	}
	runner, err := workload.NewRunner(workloadConfig, sup, h.options.Observer, h.options.Metrics)
	if err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
	}
	outcome, err := runner.Run(ctx, target, h.config.IterationConfig())
	result.Outcome = outcome
	if outcome != nil && outcome.OutputFile != "" {
		defer os.Remove(outcome.OutputFile)
	}
	if err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageWorkload)
	}
	phase("workload")

	generated := h.options.Now()
	result.Timestamp = record.FormatTimestamp(generated)
	runDir, err := h.writer.CreateRunDirectory(h.config.Run.Revision, result.Timestamp)
	if err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageRecord)
	}
	result.RunDir = runDir
	ctx = runcontext.WithLogField(ctx, "runDir", runDir)
	ctx.Log.Infof("Recording run in %s", runDir)
	sup.SetLogDir(filepath.Join(runDir, record.LogsDir))
	if _, err := record.CopyFile(runDir, record.LogsDir, WorkloadLogFile, outcome.OutputFile); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not save workload output")
	}

	capturer := telemetry.NewCapturer(h.config.Telemetry, h.telemetryTargets(ctx, sup), h.options.Metrics)
	result.Capture = capturer.Capture(ctx, runDir)
	phase("capture")

	metadata := h.config.Metadata()
	metadata.Generated = generated
	if err := h.writer.WriteMetadata(runDir, metadata); err != nil {
		return result, harnesserrors.WithStage(err, harnesserrors.StageRecord)
	}
	if err := record.WriteJSONFile(filepath.Join(runDir, record.ArtifactsDir, RunSummaryFile), h.summary(result, sup)); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not write run summary")
	}
	phase("record")
	if err := h.options.Metrics.WriteTextFile(filepath.Join(runDir, record.ArtifactsDir, HarnessMetricsFile)); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not write harness metrics")
	}

	if err := h.runReport(ctx, runDir); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Report command failed")
	}
	h.publish(ctx, runDir)

	if h.config.Teardown.KeepServices {
		h.keepServices(ctx, sup)
	}
	ctx.Log.Infof("Benchmark complete: %s", runDir)
	return result, nil
}

// Resolve expands config into service specs and the workload config, looking up ${NAME} references
// with environ. It fails if any of it, or the run metadata, is incomplete, or if the dependency graph
// cannot be scheduled.
func Resolve(config *configuration.BenchmarkConfig, environ func(string) (string, bool)) ([]*service.Spec, workload.Config, error) {
	resolver, err := configuration.NewResolver(config, environ)
	if err != nil {
		return nil, workload.Config{}, err
	}
	specs, err := resolver.ServiceSpecs()
	if err != nil {
		return nil, workload.Config{}, err
	}
	if _, err := scheduler.NewPlan(specs); err != nil {
		return nil, workload.Config{}, err
	}
	workloadConfig, err := resolver.WorkloadConfig()
	if err != nil {
		return nil, workload.Config{}, err
	}
	if err := config.Metadata().Validate(); err != nil {
		return nil, workload.Config{}, err
	}
	return specs, workloadConfig, nil
}

// phaseTimer returns a function that records the time since it was last called under the given phase.
func (h *Harness) phaseTimer() func(phase string) {
	last := time.Now()
	return func(phase string) {
		now := time.Now()
		h.options.Metrics.ObservePhase(phase, now.Sub(last))
		last = now
	}
}

func (h *Harness) preflight(index *runindex.Index) error {
	checks := health.NewMultiChecker(h.options.Preflight...)
	checks.Add(health.NamedChecker{Name: "results directory", Checker: health.WritableDirChecker{Path: h.writer.KindDir()}})
	if index != nil {
		checks.Add(health.NamedChecker{Name: "run index", Checker: index})
	}
	return checks.Check()
}

// workloadTarget is the application as seen by the generator: through the service network for a
// containerised generator, through the published port for a local process.
func (h *Harness) workloadTarget(app *supervisor.RunningService, mode workload.Mode) (workload.Target, error) {
	if app == nil {
		return workload.Target{}, errors.Errorf("application service %s is not running", h.config.Application.Service)
	}
	if mode == workload.ModeProcess {
		baseUrl, err := app.BaseUrl(h.config.Application.Port)
		return workload.Target{BaseUrl: baseUrl}, err
	}
	return workload.Target{BaseUrl: app.NetworkUrl(h.config.Application.Port)}, nil
}

func (h *Harness) telemetryTargets(ctx *runcontext.Context, sup *supervisor.Supervisor) telemetry.Targets {
	baseUrl := func(endpoint configuration.EndpointConfig) string {
		running, ok := sup.Service(endpoint.Service)
		if !ok {
			ctx.Log.Warnf("Service %s is not running", endpoint.Service)
			return ""
		}
		url, err := running.BaseUrl(endpoint.Port)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("Could not resolve %s port %d", endpoint.Service, endpoint.Port)
			return ""
		}
		return url
	}
	return telemetry.Targets{
		MetricsBaseUrl: baseUrl(h.config.Application),
		TracesBaseUrl:  baseUrl(h.config.Tracing),
	}
}
