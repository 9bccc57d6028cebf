package supervisor

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
)

// RunningService is a started service owned by a Supervisor. Other components may read it but
// only the supervisor stops it.
type RunningService struct {
	spec      *service.Spec
	instance  runtime.Instance
	startedAt time.Time
	stopped   atomic.Bool
}

func (s *RunningService) Spec() *service.Spec { return s.spec }
func (s *RunningService) Name() string { return s.spec.Name() }
func (s *RunningService) Instance() runtime.Instance { return s.instance }
func (s *RunningService) StartedAt() time.Time { return s.startedAt }
func (s *RunningService) Stopped() bool { return s.stopped.Load() }

// HostAddress returns the host:port at which containerPort of the service is reachable from the harness.
func (s *RunningService) HostAddress(containerPort int) (string, error) {
	return s.instance.HostAddress(containerPort)
}

// BaseUrl returns the http base url of containerPort as seen from the harness.
func (s *RunningService) BaseUrl(containerPort int) (string, error) {
	addr, err := s.HostAddress(containerPort)
	if err != nil {
		return "", err
	}
	return "http://" + addr, nil
}

// NetworkUrl returns the http base url of containerPort as seen from other services on the run network.
func (s *RunningService) NetworkUrl(containerPort int) string {
	return "http://" + s.spec.Alias() + ":" + strconv.Itoa(containerPort)
}

// stop stops the instance unless some other caller already has. It reports whether this call
// performed the stop.
func (s *RunningService) stop(ctx context.Context) (bool, error) {
	if !s.stopped.CompareAndSwap(false, true) {
		return false, nil
	}
	return true, s.instance.Stop(ctx)
}
