package scheduler

import (
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

// StartFunc starts a service and returns once it is ready.
type StartFunc func(ctx *runcontext.Context, spec *service.Spec) error

// Run starts every service in the plan. A service is started as soon as all of its dependencies
// are ready, so independent services start concurrently. The first failure cancels services that
// have not started yet and is returned once all in-flight starts have finished.
func (p *Plan) Run(ctx *runcontext.Context, start StartFunc) error {
	ready := make(map[string]chan struct{}, len(p.specs))
	for name := range p.specs {
		ready[name] = make(chan struct{})
	}

	g, gctx := runcontext.ErrGroup(ctx)
	for _, name := range p.Order() {
		spec := p.specs[name]
		g.Go(func() error {
			for _, dep := range spec.DependsOn() {
				select {
				case <-ready[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := start(runcontext.WithLogField(gctx, "service", spec.Name()), spec); err != nil {
				return err
			}
			close(ready[spec.Name()])
			return nil
		})
	}
	return g.Wait()
}
