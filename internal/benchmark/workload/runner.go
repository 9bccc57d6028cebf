// Package workload drives the external traffic generator and detects when it has finished.
package workload

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/supervisor"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const (
	SignalSentinel = "sentinel"
	SignalExit     = "exit"
)

type Config struct {
	Mode Mode
	// Used to prefix echoed output, e.g. k6 gives "[K6] ..."
	Name string
	// Generator service, for ModeContainer.
	Service *service.Spec
	// Generator command and working directory, for ModeProcess.
	Command []string
	Dir     string
	// Output text that marks completion.
	Sentinel   string
	Timeout    time.Duration
	DrainGrace time.Duration
	EnvNames   EnvNames
	// Regular expressions with one capture group; the last capture of each is reported verbatim.
	CountPatterns map[string]string
}

// Target is where the generator sends traffic.
type Target struct {
	BaseUrl string
}

// Observer receives every line of generator output as it is produced.
type Observer func(line string)

// Outcome describes how the generator finished. Counts are passed through from its output uninterpreted.
type Outcome struct {
	// SignalSentinel or SignalExit, whichever was observed first
	Signal       string
	SentinelSeen bool
	ExitCode     *int64
	Lines        int
	Counts       map[string]string
	StartedAt    time.Time
	FinishedAt   time.Time
	// Temporary file holding the full output. The caller owns and removes it.
	OutputFile string
}

func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

type Runner struct {
	config     Config
	counts     map[string]*regexp.Regexp
	supervisor *supervisor.Supervisor
	observer   Observer
	metrics    *metrics.Metrics
}

// NewRunner validates config. supervisor is required for ModeContainer; a nil observer echoes lines to stdout.
func NewRunner(config Config, sup *supervisor.Supervisor, observer Observer, m *metrics.Metrics) (*Runner, error) {
	if config.Mode == "" {
		config.Mode = ModeContainer
	}
	if config.Sentinel == "" {
		config.Sentinel = DefaultSentinel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DrainGrace <= 0 {
		config.DrainGrace = DefaultDrainGrace
	}
	if config.CountPatterns == nil {
		config.CountPatterns = DefaultCountPatterns
	}
	config.EnvNames = config.EnvNames.withDefaults()
	switch config.Mode {
	case ModeContainer:
		if config.Service == nil {
			return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.service"})
		}
		if sup == nil {
			return nil, errors.New("container workloads need a supervisor")
		}
		if config.Name == "" {
			config.Name = config.Service.Name()
		}
	case ModeProcess:
		if len(config.Command) == 0 {
			return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.command"})
		}
		if config.Name == "" {
			config.Name = config.Command[0]
		}
	default:
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: "workload.mode", Value: string(config.Mode), Message: "unknown mode"})
	}
	counts, err := compileCountPatterns(config.CountPatterns)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		stream := logging.NewStreamLogger(os.Stdout)
		prefix := "[" + strings.ToUpper(config.Name) + "] "
		observer = func(line string) { stream.Info(prefix + line) }
	}
	return &Runner{config: config, counts: counts, supervisor: sup, observer: observer, metrics: m}, nil
}

// subordinate is a started generator.
type subordinate interface {
	// Output returns the combined output stream. It ends when the generator exits or is stopped.
	Output() io.Reader
	// Wait blocks until the generator exits.
	Wait(ctx context.Context) (int64, error)
	// Stop terminates the generator if it is still running. The output stream is left open
	// so that lines already produced can still be read.
	Stop(ctx context.Context) error
	// Close releases the output stream.
	Close() error
}

// Run starts the generator against target and blocks until it prints the sentinel or exits.
// If neither happens within the configured timeout the generator is stopped and
// *harnesserrors.ErrWorkloadTimeout returned. Output is drained continuously in the background,
// passed to the observer and kept in Outcome.OutputFile.
func (r *Runner) Run(ctx *runcontext.Context, target Target, iterations IterationConfig) (*Outcome, error) {
	if err := iterations.validate(); err != nil {
		return nil, err
	}
	ctx = runcontext.WithLogField(ctx, "workload", r.config.Name)
	env := r.config.EnvNames.Env(target.BaseUrl, iterations)
	ctx.Log.Infof("Running %s: %d warmup + %d measured iterations against %s%s",
		r.config.Name, iterations.WarmupIterations, iterations.Iterations, target.BaseUrl, iterations.Endpoint)

	output, err := os.CreateTemp("", "workload-*.log")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	outcome := &Outcome{StartedAt: time.Now(), OutputFile: output.Name()}

	var sub subordinate
	switch r.config.Mode {
	case ModeContainer:
		sub, err = startContainer(ctx, r.supervisor, r.config.Service.WithEnv(env))
	case ModeProcess:
		sub, err = startProcess(ctx, r.config.Command, r.config.Dir, env)
	}
	if err != nil {
		_ = output.Close()
		_ = os.Remove(output.Name())
		outcome.OutputFile = ""
		return outcome, err
	}

	d := newDrain(r.config.Sentinel, r.counts, r.observer, output, r.metrics)
	go d.run(sub.Output())

	exited := make(chan int64, 1)
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		code, err := sub.Wait(waitCtx)
		if err != nil {
			if waitCtx.Err() == nil {
				ctx.Log.WithError(err).Warn("Lost track of workload")
			}
			return
		}
		exited <- code
	}()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	var runErr error
	select {
	case <-d.sentinelSeen:
		outcome.Signal = SignalSentinel
		// Trailing output such as the end of test summary follows the sentinel.
		select {
		case code := <-exited:
			outcome.ExitCode = &code
		case <-time.After(r.config.DrainGrace):
		case <-ctx.Done():
		}
	case code := <-exited:
		outcome.Signal = SignalExit
		outcome.ExitCode = &code
	case <-timer.C:
		runErr = errors.WithStack(&harnesserrors.ErrWorkloadTimeout{
			Timeout:   r.config.Timeout,
			Sentinel:  r.config.Sentinel,
			LinesSeen: d.lineCount(),
		})
	case <-ctx.Done():
		runErr = errors.WithStack(ctx.Err())
	}
	outcome.FinishedAt = time.Now()

	// An exited generator's stream still holds its last lines, usually the summary the counts come from.
	if outcome.ExitCode != nil {
		r.awaitDrain(d)
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), r.config.DrainGrace+30*time.Second)
	defer cancelStop()
	if err := sub.Stop(stopCtx); err != nil {
		ctx.Log.WithError(err).Warn("Failed to stop workload")
	}
	if !r.awaitDrain(d) {
		ctx.Log.Warn("Workload output did not close after stopping it")
	}
	if err := sub.Close(); err != nil {
		ctx.Log.WithError(err).Debug("Failed to close workload output")
	}

	select {
	case <-d.sentinelSeen:
		outcome.SentinelSeen = true
	default:
	}
	d.mu.Lock()
	outcome.Lines = d.lines
	outcome.Counts = d.snapshotCounts()
	d.closed = true
	d.mu.Unlock()
	if err := output.Close(); err != nil {
		ctx.Log.WithError(err).Warn("Failed to close workload output file")
	}

	if outcome.ExitCode != nil {
		r.metrics.RecordWorkloadExit(*outcome.ExitCode)
	} else {
		r.metrics.RecordWorkloadExit(-1)
	}
	if runErr != nil {
		return outcome, runErr
	}
	if outcome.ExitCode != nil && *outcome.ExitCode != 0 {
		ctx.Log.Warnf("Workload exited with code %d", *outcome.ExitCode)
	}
	ctx.Log.Infof("Workload finished by %s after %s (%d lines)", outcome.Signal, outcome.Duration().Round(time.Millisecond), outcome.Lines)
	return outcome, nil
}

// awaitDrain waits up to DrainGrace for the output stream to be read to its end.
func (r *Runner) awaitDrain(d *drain) bool {
	select {
	case <-d.done:
		return true
	case <-time.After(r.config.DrainGrace):
		return false
	}
}

// drain reads generator output until it ends, independently of Run's completion wait.
type drain struct {
	sentinel string
	patterns map[string]*regexp.Regexp
	observer Observer
	metrics  *metrics.Metrics

	sentinelSeen chan struct{}
	done         chan struct{}

	mu     sync.Mutex
	lines  int
	counts map[string]string
	sink   io.Writer
	closed bool
}

func newDrain(sentinel string, patterns map[string]*regexp.Regexp, observer Observer, sink io.Writer, m *metrics.Metrics) *drain {
	return &drain{
		sentinel:     sentinel,
		patterns:     patterns,
		observer:     observer,
		metrics:      m,
		sentinelSeen: make(chan struct{}),
		done:         make(chan struct{}),
		counts:       map[string]string{},
		sink:         sink,
	}
}

func (d *drain) run(output io.Reader) {
	defer close(d.done)
	seen := false
	reader := bufio.NewReader(output)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			d.observe(line)
			if !seen && strings.Contains(line, d.sentinel) {
				seen = true
				close(d.sentinelSeen)
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *drain) observe(line string) {
	d.observer(line)
	d.metrics.RecordWorkloadLine()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines++
	for name, re := range d.patterns {
		if m := re.FindStringSubmatch(line); m != nil {
			d.counts[name] = m[1]
		}
	}
	if !d.closed {
		_, _ = io.WriteString(d.sink, line+"\n")
	}
}

func (d *drain) lineCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

func (d *drain) snapshotCounts() map[string]string {
	out := make(map[string]string, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}
