// Package configuration reads the benchmark settings and turns them into service and workload specs.
package configuration

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime/docker"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/workload"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/config"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

const (
	DefaultConfigPath = "config/benchmark/config.yaml"
	EnvPrefix         = "BENCHMARK"

	DefaultEnvFile       = ".env.spring.benchmark"
	DefaultStopTimeout   = 2 * time.Minute
	DefaultKeepDuration  = 300000 * time.Millisecond
	DefaultReportTimeout = 5 * time.Minute
)

// LegacyEnvBindings maps config keys to the environment variables the benchmark has always been driven by.
// They take precedence over the config file, as do BENCHMARK_ prefixed variables.
var LegacyEnvBindings = map[string][]string{
	"run.image":                 {"IMAGE_NAME"},
	"run.revision":              {"APP_GIT_COMMIT"},
	"run.tag":                   {"APP_GIT_TAG"},
	"envfile":                   {"SPRING_ENV_FILE"},
	"workload.iterations":       {"AI_BENCHMARK_K6_ITERATIONS"},
	"workload.warmupiterations": {"AI_BENCHMARK_K6_WARMUP_ITERATIONS"},
	"workload.endpoint":         {"AI_BENCHMARK_ENDPOINT"},
	"workload.requesttimeout":   {"AI_BENCHMARK_REQUEST_TIMEOUT"},
	"workload.verbose":          {"AI_BENCHMARK_ENABLE_VERBOSE_DOCKER_LOGS"},
	"workload.timeoutminutes":   {"REQUEST_TIMEOUT_MINUTES"},
	"teardown.keepservices":     {"AI_BENCHMARK_KEEP_CONTAINERS"},
	"teardown.keepduration":     {"AI_BENCHMARK_WAIT_TIME_MS"},
	"publish.accesskey":         {"BENCHMARK_PUBLISH_ACCESSKEY", "AWS_ACCESS_KEY_ID"},
	"publish.secretkey":         {"BENCHMARK_PUBLISH_SECRETKEY", "AWS_SECRET_ACCESS_KEY"},
}

// Load reads the default config file, merges userPath over it if given, applies environment
// overrides and validates the result. Every failure is an ErrConfiguration or ErrMissingConfiguration.
func Load(userPath string) (*BenchmarkConfig, error) {
	return LoadFrom(viper.New(), DefaultConfigPath, userPath)
}

func LoadFrom(v *viper.Viper, defaultPath, userPath string) (*BenchmarkConfig, error) {
	var c BenchmarkConfig
	err := config.LoadConfig(v, &c, config.LoadOptions{
		DefaultPath: defaultPath,
		UserPath:    userPath,
		EnvPrefix:   EnvPrefix,
		EnvBindings: LegacyEnvBindings,
	})
	if err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *BenchmarkConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatText
	}
	if c.Results.Root == "" {
		c.Results.Root = record.DefaultRoot
	}
	if c.Results.Kind == "" {
		c.Results.Kind = record.DefaultKind
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.Runtime.PullPolicy == "" {
		c.Runtime.PullPolicy = docker.PullMissing
	}
	if c.Workload.Mode == "" {
		c.Workload.Mode = workload.ModeContainer
	}
	if c.Workload.TimeoutMinutes > 0 {
		c.Workload.Timeout = time.Duration(c.Workload.TimeoutMinutes) * time.Minute
	}
	if c.Teardown.StopTimeout <= 0 {
		c.Teardown.StopTimeout = DefaultStopTimeout
	}
	if c.Teardown.KeepServices && c.Teardown.KeepDuration <= 0 {
		c.Teardown.KeepDuration = DefaultKeepDuration
	}
	if len(c.Report.Command) > 0 && c.Report.Timeout <= 0 {
		c.Report.Timeout = DefaultReportTimeout
	}
}

// Validate checks the settings that can be checked without touching the filesystem or docker.
// Service specs are validated when built.
func (c *BenchmarkConfig) Validate() error {
	if err := config.Validate(c); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Publish.Validate(); err != nil {
		return err
	}
	if *c.Workload.Iterations <= 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.iterations", Value: *c.Workload.Iterations, Message: "must be positive"})
	}
	if *c.Workload.WarmupIterations < 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.warmupIterations", Value: *c.Workload.WarmupIterations, Message: "must not be negative"})
	}
	if c.Teardown.KeepDuration < 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "teardown.keepDuration", Value: c.Teardown.KeepDuration.String(), Message: "must not be negative"})
	}
	switch c.Runtime.PullPolicy {
	case "", docker.PullMissing, docker.PullAlways, docker.PullNever:
	default:
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "runtime.pullPolicy", Value: c.Runtime.PullPolicy, Message: "must be missing, always or never"})
	}
	names := map[string]bool{}
	for _, s := range c.Services {
		names[s.Name] = true
	}
	if !names[c.Application.Service] {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "application.service", Value: c.Application.Service, Message: "not one of the configured services"})
	}
	if !names[c.Tracing.Service] {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "tracing.service", Value: c.Tracing.Service, Message: "not one of the configured services"})
	}
	if c.Workload.Mode == workload.ModeContainer && c.Workload.Service == nil {
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.service"})
	}
	if c.Workload.Mode == workload.ModeProcess && len(c.Workload.Command) == 0 {
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.command"})
	}
	return nil
}
