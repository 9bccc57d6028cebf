package harness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/configuration"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/publish"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/supervisor"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

const (
	EnvRunDir      = "BENCHMARK_RUN_DIR"
	EnvResultsRoot = "BENCHMARK_RESULTS_ROOT"
	EnvRunId       = "BENCHMARK_RUN_ID"
)

// runReport runs the configured report command, if any, with the run directory in its environment.
func (h *Harness) runReport(ctx *runcontext.Context, runDir string) error {
	command := h.config.Report.Command
	if len(command) == 0 {
		return nil
	}
	timeout := h.config.Report.Timeout
	if timeout <= 0 {
		timeout = configuration.DefaultReportTimeout
	}
	reportCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := ctx.Log.WithField("command", command[0])
	out := logger.WriterLevel(log.InfoLevel)
	defer out.Close()

	cmd := exec.CommandContext(reportCtx, command[0], command[1:]...)
	cmd.Dir = h.config.Report.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvRunDir, runDir),
		fmt.Sprintf("%s=%s", EnvResultsRoot, h.config.Results.Root),
		fmt.Sprintf("%s=%s", EnvRunId, h.options.RunId),
	)
	logger.Info("Running report command")
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "report command %v", command)
	}
	return nil
}

// publish uploads the run directory to object storage when enabled. Failures are logged; the local
// record is already complete.
func (h *Harness) publish(ctx *runcontext.Context, runDir string) {
	if !h.config.Publish.Enabled {
		return
	}
	publisher, err := publish.New(h.config.Publish)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not create publisher")
		return
	}
	n, err := publisher.Publish(ctx, h.config.Results.Root, runDir)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("Publishing stopped after %d files", n)
		return
	}
	ctx.Log.Infof("Published %d files to bucket %s", n, h.config.Publish.Bucket)
}

// keepServices leaves the services up for inspection until the keep duration elapses or the run is
// interrupted.
func (h *Harness) keepServices(ctx *runcontext.Context, sup *supervisor.Supervisor) {
	tw := table.NewWriter()
	tw.SetOutputMirror(h.options.Out)
	tw.AppendHeader(table.Row{"Service", "Port", "URL"})
	for _, running := range sup.Services() {
		ports := running.Spec().Ports()
		sort.Ints(ports)
		for _, port := range ports {
			url, err := running.BaseUrl(port)
			if err != nil {
				url = "-"
			}
			tw.AppendRow(table.Row{running.Name(), port, url})
		}
	}
	tw.Render()

	duration := h.config.Teardown.KeepDuration
	ctx.Log.Infof("Keeping services running for %s", duration)
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		ctx.Log.Info("Interrupted, stopping services")
	}
}
