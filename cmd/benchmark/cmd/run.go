package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/configuration"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/harness"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/metrics"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime/docker"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/health"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/ids"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

// Flags of the run command and the config keys they override.
var runFlagBindings = map[string]string{
	"run.image":                 "image",
	"run.revision":              "revision",
	"run.tag":                   "tag",
	"results.root":              "results-root",
	"workload.iterations":       "iterations",
	"workload.warmupiterations": "warmup-iterations",
	"workload.timeout":          "workload-timeout",
	"teardown.keepservices":     "keep",
	"publish.enabled":           "publish",
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the services, runs the workload and records the run",
		RunE:  runBenchmark,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("image", "", "Image of the application under test")
	cmd.Flags().String("revision", "", "Source revision the image was built from")
	cmd.Flags().String("tag", "", "Release tag of the revision, if any")
	cmd.Flags().String("results-root", "", "Directory that run records are written below")
	cmd.Flags().Int("iterations", 0, "Measured iterations")
	cmd.Flags().Int("warmup-iterations", 0, "Warmup iterations run before the measured ones")
	cmd.Flags().Duration("workload-timeout", 0, "How long the workload may run before the run fails")
	cmd.Flags().Bool("keep", false, "Leave services running for inspection after the run is recorded")
	cmd.Flags().Bool("publish", false, "Upload the run record to object storage")
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd, runFlagBindings)
	if err != nil {
		return err
	}
	runId := ids.NewRunId()

	rt, err := docker.NewFromEnv(docker.Options{
		RunID:       runId,
		PullPolicy:  config.Runtime.PullPolicy,
		HostIP:      config.Runtime.HostIP,
		StopTimeout: config.Runtime.ContainerStopTimeout,
	})
	if err != nil {
		return harnesserrors.WithStage(err, harnesserrors.StageStartup)
	}

	m := metrics.New()
	if config.Logging.Metrics {
		m = metrics.New(prometheus.DefaultGatherer)
	}

	h := harness.New(config, rt, harness.Options{
		RunId:         runId,
		Preflight:     []health.Checker{dockerVersionCheck(rt, config)},
		HandleSignals: true,
		Metrics:       m,
	})
	result, err := h.Run(runcontext.Background())
	if err != nil {
		return err
	}
	log.WithField("run", result.RunId).Infof("Run recorded in %s", result.RunDir)
	return nil
}

func dockerVersionCheck(rt *docker.Runtime, config *configuration.BenchmarkConfig) health.Checker {
	return health.NamedChecker{
		Name: "docker engine",
		Checker: health.CheckerFunc(func() error {
			return rt.CheckVersion(context.Background(), config.Runtime.MinimumVersion)
		}),
	}
}
