package workload

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

// processWorkload is a generator running as a child process of the harness.
type processWorkload struct {
	cmd    *exec.Cmd
	output *io.PipeReader
	cancel context.CancelFunc
	exited chan struct{}
	code   int64
	err    error
}

func startProcess(ctx *runcontext.Context, command []string, dir string, env map[string]string) (*processWorkload, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envList(env)...)
	// Ask nicely first; WaitDelay bounds how long the process may ignore it.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "error starting %s", command[0])
	}
	ctx.Log.Infof("Started %s (pid %d)", command[0], cmd.Process.Pid)

	p := &processWorkload{cmd: cmd, output: pr, cancel: cancel, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			p.code = int64(exitErr.ExitCode())
		default:
			p.err = err
		}
		_ = pw.Close()
		close(p.exited)
	}()
	return p, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (p *processWorkload) Output() io.Reader {
	return p.output
}

func (p *processWorkload) Wait(ctx context.Context) (int64, error) {
	select {
	case <-p.exited:
		return p.code, p.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *processWorkload) Stop(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (p *processWorkload) Close() error {
	return p.output.Close()
}
