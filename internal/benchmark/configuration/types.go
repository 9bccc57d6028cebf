package configuration

import (
	"time"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/publish"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/telemetry"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/workload"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

type BenchmarkConfig struct {
	Logging logging.Config
	Results ResultsConfig
	Run     RunConfig
	// Dotenv file shared by services with UseEnvFile set, and consulted when expanding ${NAME}
	// references after the process environment.
	EnvFile string
	// KEY=VALUE pairs used in place of EnvFile when that file does not exist.
	EnvFileFallback []string
	Runtime         RuntimeConfig
	// The application under test. Must name one of Services.
	Application EndpointConfig
	// The trace collector. Must name one of Services.
	Tracing  EndpointConfig
	Services []ServiceConfig `validate:"required,dive"`
	Workload WorkloadConfig
	// Zero values fall back to the capture defaults.
	Telemetry telemetry.Config
	Teardown  TeardownConfig
	Index     IndexConfig
	Publish   publish.Config
	Report    ReportConfig
}

type ResultsConfig struct {
	// Defaults to "results"
	Root string
	// Defaults to "ai-benchmark"
	Kind string
}

// RunConfig identifies what is benchmarked.
type RunConfig struct {
	// Image of the application under test, e.g. eaexist/subscription-killer-api:abc123
	Image    string `validate:"required"`
	Revision string `validate:"required"`
	// Optional; recorded as "no-tag" when empty
	Tag string
}

type RuntimeConfig struct {
	// missing, always or never
	PullPolicy string
	// Semver constraint on the docker engine version. Empty disables the check.
	MinimumVersion string
	// Host interface that container ports are published on.
	HostIP string
	// Grace period docker gives a container between SIGTERM and SIGKILL.
	ContainerStopTimeout time.Duration
}

// EndpointConfig points at a port of one of the configured services.
type EndpointConfig struct {
	Service string `validate:"required"`
	Port    int    `validate:"required"`
}

// ServiceConfig is a service as written in the config file. Environment entries are KEY=VALUE
// strings, so the case of variable names survives decoding. Values may reference variables as
// ${NAME}, ${NAME:-default} or ${NAME##*/} (the part after the last '/').
type ServiceConfig struct {
	Name       string `validate:"required"`
	Alias      string
	Image      string
	Ports      service.PortSet
	Env        []string
	EnvFile    string
	UseEnvFile bool
	Readiness  service.Readiness
	DependsOn  []string
	Command    []string
	Binds      []string
}

type WorkloadConfig struct {
	Mode workload.Mode
	Name string
	// Generator service, for container mode. Its dependencies must already be among Services.
	Service *ServiceConfig
	// Generator command and working directory, for process mode.
	Command []string
	Dir     string

	Endpoint         string
	Iterations       *int `validate:"required"`
	WarmupIterations *int `validate:"required"`
	RequestTimeout   time.Duration
	Verbose          bool

	Sentinel string
	// How long the generator may run before the run fails.
	Timeout time.Duration
	// Overrides Timeout when set.
	TimeoutMinutes int
	DrainGrace     time.Duration
	CountPatterns  map[string]string
}

type TeardownConfig struct {
	// Bound on stopping all services.
	StopTimeout time.Duration
	// Leave services running for KeepDuration after the run is recorded.
	KeepServices bool
	KeepDuration time.Duration
}

type IndexConfig struct {
	Enabled bool
}

// ReportConfig describes a command run once the run record is complete.
type ReportConfig struct {
	Command []string
	Dir     string
	Timeout time.Duration
}
