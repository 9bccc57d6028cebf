package workload

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

type Mode string

const (
	// ModeContainer runs the generator as a service next to the application.
	ModeContainer Mode = "container"
	// ModeProcess runs the generator as a local process.
	ModeProcess Mode = "process"
)

func (m *Mode) UnmarshalText(text []byte) error {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(string(text)))); mode {
	case "", ModeContainer:
		*m = ModeContainer
	case ModeProcess:
		*m = ModeProcess
	default:
		return errors.Errorf("unknown workload mode %q", string(text))
	}
	return nil
}

const (
	DefaultSentinel = "test finished"
	DefaultTimeout  = 5 * time.Minute
	// Time allowed after completion for trailing output, e.g. an end of test summary, to be read.
	DefaultDrainGrace     = 5 * time.Second
	DefaultRequestTimeout = 5 * time.Minute
)

// IterationConfig is what the traffic generator is told to do.
type IterationConfig struct {
	// Path of the endpoint under test, e.g. /api/benchmark/analyze
	Endpoint string
	// Measured iterations
	Iterations int
	// Iterations run first and excluded from measurement
	WarmupIterations int
	RequestTimeout   time.Duration
	Verbose          bool
}

// Total is the number of iterations the generator runs.
func (c IterationConfig) Total() int {
	return c.Iterations + c.WarmupIterations
}

func (c IterationConfig) validate() error {
	if c.Iterations <= 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.iterations", Value: strconv.Itoa(c.Iterations), Message: "must be positive"})
	}
	if c.WarmupIterations < 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.warmupIterations", Value: strconv.Itoa(c.WarmupIterations), Message: "must not be negative"})
	}
	return nil
}

// EnvNames are the environment variables through which the generator receives its IterationConfig.
type EnvNames struct {
	TargetBaseUrl    string
	Endpoint         string
	Iterations       string
	WarmupIterations string
	RequestTimeout   string
	Verbose          string
}

// DefaultEnvNames are the names understood by the k6 load test script.
var DefaultEnvNames = EnvNames{
	TargetBaseUrl:    "API_BASE_URL",
	Endpoint:         "AI_BENCHMARK_ENDPOINT",
	Iterations:       "AI_BENCHMARK_K6_ITERATIONS",
	WarmupIterations: "AI_BENCHMARK_K6_WARMUP_ITERATIONS",
	RequestTimeout:   "AI_BENCHMARK_REQUEST_TIMEOUT",
	Verbose:          "AI_BENCHMARK_ENABLE_VERBOSE_DOCKER_LOGS",
}

func (n EnvNames) withDefaults() EnvNames {
	set := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	set(&n.TargetBaseUrl, DefaultEnvNames.TargetBaseUrl)
	set(&n.Endpoint, DefaultEnvNames.Endpoint)
	set(&n.Iterations, DefaultEnvNames.Iterations)
	set(&n.WarmupIterations, DefaultEnvNames.WarmupIterations)
	set(&n.RequestTimeout, DefaultEnvNames.RequestTimeout)
	set(&n.Verbose, DefaultEnvNames.Verbose)
	return n
}

// Env renders the invocation contract for a generator targeting baseUrl.
func (n EnvNames) Env(baseUrl string, c IterationConfig) map[string]string {
	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return map[string]string{
		n.TargetBaseUrl:    strings.TrimSuffix(baseUrl, "/"),
		n.Endpoint:         c.Endpoint,
		n.Iterations:       strconv.Itoa(c.Iterations),
		n.WarmupIterations: strconv.Itoa(c.WarmupIterations),
		n.RequestTimeout:   formatDuration(requestTimeout),
		n.Verbose:          strconv.FormatBool(c.Verbose),
	}
}

// formatDuration renders d the way k6 accepts it, e.g. 5m rather than 5m0s.
func formatDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	default:
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
}

// DefaultCountPatterns pick the request and failure totals out of the k6 end of test summary.
var DefaultCountPatterns = map[string]string{
	"requests": `http_reqs\.*:\s*(\d+)`,
	"failures": `http_req_failed\.*:\s*(\S+)`,
}

func compileCountPatterns(patterns map[string]string) (map[string]*regexp.Regexp, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for name, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.countPatterns." + name, Value: pattern, Message: err.Error()})
		}
		if re.NumSubexp() < 1 {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.countPatterns." + name, Value: pattern, Message: "pattern needs a capture group"})
		}
		compiled[name] = re
	}
	return compiled, nil
}
