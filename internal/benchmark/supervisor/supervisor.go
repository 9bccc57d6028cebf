// Package supervisor owns the services of a benchmark run and guarantees they are stopped exactly once.
package supervisor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/readiness"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/scheduler"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/app"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const DefaultStopTimeout = 2 * time.Minute

type Options struct {
	// Upper bound on the whole of StopAll.
	StopTimeout time.Duration
	Metrics     *metrics.Metrics
}

type Supervisor struct {
	runtime runtime.Runtime
	options Options

	mu       sync.Mutex
	services []*RunningService
	byName   map[string]*RunningService
	setup    bool
	closed   bool
	logDir   string

	// Held for the whole of StopAll so that the runtime is torn down only once every service is stopped.
	stopMu     sync.Mutex
	signalOnce sync.Once
	signalCtx  *runcontext.Context
}

func New(rt runtime.Runtime, options Options) *Supervisor {
	if options.StopTimeout <= 0 {
		options.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		runtime: rt,
		options: options,
		byName:  map[string]*RunningService{},
	}
}

// StartAll validates the dependency graph of specs and then starts every service, each one only
// after its dependencies are ready. Nothing is started if the graph is invalid. On failure, services
// that did start remain tracked so StopAll can remove them.
func (s *Supervisor) StartAll(ctx *runcontext.Context, specs []*service.Spec) error {
	plan, err := scheduler.NewPlan(specs)
	if err != nil {
		return err
	}
	ctx.Log.Infof("Starting %d services in %d waves: %v", plan.Len(), len(plan.Waves()), plan.Waves())
	return plan.Run(ctx, func(ctx *runcontext.Context, spec *service.Spec) error {
		running, err := s.Start(ctx, spec)
		if err != nil {
			return err
		}
		readyStart := time.Now()
		if err := readiness.AwaitReady(ctx, readiness.Target{Name: spec.Name(), Instance: running.Instance()}, spec.Readiness()); err != nil {
			return err
		}
		s.options.Metrics.ObserveServiceReady(spec.Name(), time.Since(readyStart))
		return nil
	})
}

// Start starts a single service without waiting for it to become ready and tracks it for StopAll.
func (s *Supervisor) Start(ctx *runcontext.Context, spec *service.Spec) (*RunningService, error) {
	if err := s.ensureSetup(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx.Log.Infof("Starting %s from image %s", spec.Name(), spec.Image())
	instance, err := s.runtime.Start(ctx, spec)
	if instance != nil {
		// Track whatever exists, even if start failed half way, so it is cleaned up.
		running := &RunningService{spec: spec, instance: instance, startedAt: start}
		if !s.track(running) {
			s.stopLate(running)
			return nil, errors.Errorf("service %s started after shutdown began", spec.Name())
		}
		if err == nil {
			s.options.Metrics.ObserveServiceStart(spec.Name(), time.Since(start))
			return running, nil
		}
	}
	return nil, errors.WithMessagef(err, "error starting service %s", spec.Name())
}

func (s *Supervisor) ensureSetup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("supervisor is shutting down")
	}
	if s.setup {
		return nil
	}
	if err := s.runtime.Setup(ctx); err != nil {
		return err
	}
	s.setup = true
	return nil
}

func (s *Supervisor) track(running *RunningService) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.services = append(s.services, running)
	s.byName[running.Name()] = running
	return true
}

// stopLate stops a service whose start finished after StopAll had already run.
func (s *Supervisor) stopLate(running *RunningService) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.StopTimeout)
	defer cancel()
	if _, err := running.stop(ctx); err != nil {
		logging.WithStacktrace(log.WithField("service", running.Name()), err).Warn("Failed to stop service")
	}
}

// Service returns the tracked service with the given name.
func (s *Supervisor) Service(name string) (*RunningService, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running, ok := s.byName[name]
	return running, ok
}

// Services returns the tracked services in start order.
func (s *Supervisor) Services() []*RunningService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RunningService(nil), s.services...)
}

// SetLogDir makes StopAll save each service's logs to <dir>/<service>.log before stopping it.
func (s *Supervisor) SetLogDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logDir = dir
}

// Stop stops one tracked service. Stopping an already stopped service is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	running, ok := s.Service(name)
	if !ok {
		return errors.Errorf("no service named %s", name)
	}
	s.saveLogs(ctx, running)
	stopped, err := running.stop(ctx)
	if stopped {
		s.options.Metrics.RecordServiceStop(name, err)
	}
	return err
}

// StopAll stops every tracked service and removes shared runtime resources. It is safe to call
// more than once and from several goroutines at the same time: each service is stopped exactly once,
// later calls find nothing left to do. Failures are logged and never prevent the remaining services
// from being stopped.
func (s *Supervisor) StopAll() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	s.closed = true
	services := append([]*RunningService(nil), s.services...)
	setup := s.setup
	s.setup = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.options.StopTimeout)
	defer cancel()

	var result *multierror.Error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, running := range services {
		running := running
		if running.Stopped() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.saveLogs(ctx, running)
			stopped, err := running.stop(ctx)
			if !stopped {
				return
			}
			s.options.Metrics.RecordServiceStop(running.Name(), err)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
				return
			}
			log.WithField("service", running.Name()).Info("Stopped service")
		}()
	}
	wg.Wait()

	if setup {
		if err := s.runtime.Teardown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("Errors during teardown were ignored")
	}
}

// saveLogs writes what the service has logged so far to the log directory, if one is set.
func (s *Supervisor) saveLogs(ctx context.Context, running *RunningService) {
	s.mu.Lock()
	dir := s.logDir
	s.mu.Unlock()
	if dir == "" || running.Stopped() {
		return
	}
	entry := log.WithField("service", running.Name())
	reader, err := running.Instance().Logs(ctx, false)
	if err != nil {
		entry.WithError(err).Warn("Could not read service logs")
		return
	}
	defer reader.Close()
	path := filepath.Join(dir, running.Name()+".log")
	f, err := os.Create(path)
	if err != nil {
		entry.WithError(err).Warn("Could not save service logs")
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		entry.WithError(err).Warnf("Could not save service logs to %s", path)
	}
}

// InstallSignalHandler makes SIGINT and SIGTERM call StopAll. The handler is installed once per
// supervisor; every call returns the context that is cancelled after a signal has been handled.
func (s *Supervisor) InstallSignalHandler(ctx *runcontext.Context) *runcontext.Context {
	s.signalOnce.Do(func() {
		signalCtx, _ := app.CreateContextWithShutdownHook(ctx, func(sig os.Signal) {
			ctx.Log.Warnf("Received %s, stopping all services", sig)
			s.StopAll()
		})
		s.signalCtx = runcontext.New(signalCtx, ctx.Log)
	})
	return s.signalCtx
}
