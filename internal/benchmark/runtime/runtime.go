// Package runtime abstracts the container engine that runs benchmark services.
package runtime

import (
	"context"
	"io"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
)

// Runtime starts services for a single benchmark run.
type Runtime interface {
	// Setup creates resources shared by all services of the run, e.g. the network they join.
	Setup(ctx context.Context) error
	// Start creates and starts an instance of spec. It returns once the instance is running;
	// readiness is checked separately.
	Start(ctx context.Context, spec *service.Spec) (Instance, error)
	// Teardown removes what Setup created. Instances must be stopped first.
	Teardown(ctx context.Context) error
}

// Instance is a started service.
type Instance interface {
	ID() string
	// HostAddress returns the host:port on which containerPort is reachable from the harness.
	HostAddress(containerPort int) (string, error)
	// Logs returns the combined stdout and stderr of the instance. With follow set, the reader
	// stays open until the instance exits or ctx is cancelled.
	Logs(ctx context.Context, follow bool) (io.ReadCloser, error)
	// Wait blocks until the instance exits and returns its exit code.
	Wait(ctx context.Context) (int64, error)
	// Stop stops and removes the instance.
	Stop(ctx context.Context) error
}
