package workload

import (
	"context"
	"io"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/supervisor"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

// containerWorkload is a generator started as a service. It is tracked by the supervisor,
// so an interrupted run still removes it.
type containerWorkload struct {
	supervisor *supervisor.Supervisor
	running    *supervisor.RunningService
	output     io.ReadCloser
}

func startContainer(ctx *runcontext.Context, sup *supervisor.Supervisor, spec *service.Spec) (*containerWorkload, error) {
	running, err := sup.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	// Follow from the start; lines logged before this call are replayed by the runtime.
	output, err := running.Instance().Logs(ctx, true)
	if err != nil {
		_ = sup.Stop(context.Background(), spec.Name())
		return nil, err
	}
	return &containerWorkload{supervisor: sup, running: running, output: output}, nil
}

func (c *containerWorkload) Output() io.Reader {
	return c.output
}

func (c *containerWorkload) Wait(ctx context.Context) (int64, error) {
	return c.running.Instance().Wait(ctx)
}

func (c *containerWorkload) Stop(ctx context.Context) error {
	return c.supervisor.Stop(ctx, c.running.Name())
}

func (c *containerWorkload) Close() error {
	return c.output.Close()
}
