// Package fake provides an in-memory Runtime for tests.
package fake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
)

// Behaviour scripts how a fake instance acts.
type Behaviour struct {
	// Host addresses returned by HostAddress, keyed by container port.
	Addresses map[int]string
	// Lines emitted on the log stream, each after LineDelay.
	Lines     []string
	LineDelay time.Duration
	// Exit after the last line with ExitCode. Otherwise the instance runs until stopped.
	ExitAfterLines bool
	ExitCode       int64
	StartDelay     time.Duration
	StartErr       error
	StopErr        error
}

// Event records a call made against the runtime.
type Event struct {
	Kind    string // "start" or "stop"
	Service string
	At      time.Time
}

type Runtime struct {
	mu         sync.Mutex
	behaviours map[string]Behaviour
	instances  map[string]*Instance
	events     []Event
	setup      int
	teardown   int
}

func New() *Runtime {
	return &Runtime{
		behaviours: map[string]Behaviour{},
		instances:  map[string]*Instance{},
	}
}

// Script sets the behaviour of the service with the given name.
func (r *Runtime) Script(name string, b Behaviour) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviours[name] = b
	return r
}

func (r *Runtime) Setup(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setup++
	return nil
}

func (r *Runtime) Teardown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardown++
	return nil
}

func (r *Runtime) Start(ctx context.Context, spec *service.Spec) (runtime.Instance, error) {
	r.mu.Lock()
	b := r.behaviours[spec.Name()]
	r.mu.Unlock()

	if b.StartDelay > 0 {
		select {
		case <-time.After(b.StartDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.StartErr != nil {
		return nil, b.StartErr
	}

	inst := &Instance{
		name:      spec.Name(),
		spec:      spec,
		behaviour: b,
		runtime:   r,
		exited:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go inst.run()

	r.mu.Lock()
	r.instances[spec.Name()] = inst
	r.events = append(r.events, Event{Kind: "start", Service: spec.Name(), At: time.Now()})
	r.mu.Unlock()
	return inst, nil
}

func (r *Runtime) record(kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: kind, Service: name, At: time.Now()})
}

// Events returns the start and stop calls made so far, in order.
func (r *Runtime) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Started returns the names of started services in start order.
func (r *Runtime) Started() []string {
	var names []string
	for _, e := range r.Events() {
		if e.Kind == "start" {
			names = append(names, e.Service)
		}
	}
	return names
}

// StopCount returns how many times Stop reached the named instance.
func (r *Runtime) StopCount(name string) int {
	count := 0
	for _, e := range r.Events() {
		if e.Kind == "stop" && e.Service == name {
			count++
		}
	}
	return count
}

// Instance returns the instance started for name, if any.
func (r *Runtime) Instance(name string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[name]
}

func (r *Runtime) SetupCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup
}

func (r *Runtime) TeardownCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown
}

type Instance struct {
	name      string
	spec      *service.Spec
	behaviour Behaviour
	runtime   *Runtime

	mu       sync.Mutex
	emitted  []string
	watchers []chan string
	exited   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	exitCode int64
}

func (i *Instance) ID() string { return "fake-" + i.name }

// Spec returns the spec the instance was started with.
func (i *Instance) Spec() *service.Spec { return i.spec }

func (i *Instance) run() {
	for _, line := range i.behaviour.Lines {
		if i.behaviour.LineDelay > 0 {
			select {
			case <-time.After(i.behaviour.LineDelay):
			case <-i.stopped:
				i.exit(137)
				return
			}
		}
		i.emit(line)
	}
	if i.behaviour.ExitAfterLines {
		i.exit(i.behaviour.ExitCode)
		return
	}
	<-i.stopped
	i.exit(137)
}

func (i *Instance) emit(line string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.emitted = append(i.emitted, line)
	for _, w := range i.watchers {
		w <- line
	}
}

func (i *Instance) exit(code int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.exitCode = code
	for _, w := range i.watchers {
		close(w)
	}
	i.watchers = nil
	close(i.exited)
}

func (i *Instance) HostAddress(containerPort int) (string, error) {
	if addr, ok := i.behaviour.Addresses[containerPort]; ok {
		return addr, nil
	}
	return "", errors.Errorf("port %d of %s is not published", containerPort, i.name)
}

func (i *Instance) Logs(ctx context.Context, follow bool) (io.ReadCloser, error) {
	i.mu.Lock()
	backlog := ""
	if len(i.emitted) > 0 {
		backlog = strings.Join(i.emitted, "\n") + "\n"
	}
	select {
	case <-i.exited:
		follow = false
	default:
	}
	if !follow {
		i.mu.Unlock()
		return io.NopCloser(strings.NewReader(backlog)), nil
	}
	lines := make(chan string, 1024)
	i.watchers = append(i.watchers, lines)
	i.mu.Unlock()

	pr, pw := io.Pipe()
	go func() {
		if _, err := io.WriteString(pw, backlog); err != nil {
			return
		}
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					_ = pw.Close()
					return
				}
				if _, err := fmt.Fprintln(pw, line); err != nil {
					return
				}
			case <-ctx.Done():
				_ = pw.CloseWithError(ctx.Err())
				return
			}
		}
	}()
	return pr, nil
}

func (i *Instance) Wait(ctx context.Context) (int64, error) {
	select {
	case <-i.exited:
		i.mu.Lock()
		defer i.mu.Unlock()
		return i.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (i *Instance) Stop(context.Context) error {
	i.runtime.record("stop", i.name)
	if i.behaviour.StopErr != nil {
		return i.behaviour.StopErr
	}
	i.stopOnce.Do(func() { close(i.stopped) })
	return nil
}

// Running reports whether the instance has neither exited nor been stopped.
func (i *Instance) Running() bool {
	select {
	case <-i.exited:
		return false
	case <-i.stopped:
		return false
	default:
		return true
	}
}
