package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/harness"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/scheduler"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/workload"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Prints the services and workload a run would start",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd, runFlagBindings)
			if err != nil {
				return err
			}
			specs, workloadConfig, err := harness.Resolve(config, os.LookupEnv)
			if err != nil {
				return harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
			}
			showEnv, _ := cmd.Flags().GetBool("env")
			output, _ := cmd.Flags().GetString("output")
			switch output {
			case "yaml":
				return printPlanYaml(cmd, specs, workloadConfig)
			case "table":
			default:
				return errors.Errorf("unknown output format %q, expected table or yaml", output)
			}
			if err := printPlan(cmd, specs, workloadConfig, showEnv); err != nil {
				return harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d warmup + %d measured iterations against %s\n",
				*config.Workload.WarmupIterations, *config.Workload.Iterations, config.Workload.Endpoint)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("env", false, "Show service environments, with secrets redacted")
	cmd.Flags().StringP("output", "o", "table", "Output format, table or yaml")
	return cmd
}

// printPlan lists the services in start waves; services within a wave start concurrently. The
// generator comes last, once the application is ready.
func printPlan(cmd *cobra.Command, specs []*service.Spec, workloadConfig workload.Config, showEnv bool) error {
	plan, err := scheduler.NewPlan(specs)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	header := table.Row{"Wave", "Service", "Image", "Ports", "Depends On", "Ready When"}
	if showEnv {
		header = append(header, "Environment")
	}
	tw.AppendHeader(header)
	appendSpec := func(wave int, spec *service.Spec) {
		row := table.Row{
			wave,
			spec.Name(),
			spec.Image(),
			joinInts(spec.Ports()),
			strings.Join(spec.DependsOn(), ", "),
			spec.Readiness().String(),
		}
		if showEnv {
			row = append(row, strings.Join(logging.RedactEnv(spec.Env()), "\n"))
		}
		tw.AppendRow(row)
	}
	waves := plan.Waves()
	for i, wave := range waves {
		for _, name := range wave {
			appendSpec(i+1, plan.Spec(name))
		}
	}
	if workloadConfig.Service != nil {
		appendSpec(len(waves)+1, workloadConfig.Service)
	} else if len(workloadConfig.Command) > 0 {
		tw.AppendRow(table.Row{len(waves) + 1, "workload", "(local process)", "", "", strings.Join(workloadConfig.Command, " ")})
	}
	tw.Render()
	return nil
}

type planDocument struct {
	Waves    [][]string    `json:"waves"`
	Services []planService `json:"services"`
	Workload *planService  `json:"workload,omitempty"`
	Command  []string      `json:"command,omitempty"`
}

type planService struct {
	Name      string   `json:"name"`
	Alias     string   `json:"alias"`
	Image     string   `json:"image"`
	Ports     []int    `json:"ports,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Readiness string   `json:"readiness"`
	Env       []string `json:"env,omitempty"`
}

func newPlanService(spec *service.Spec) planService {
	return planService{
		Name:      spec.Name(),
		Alias:     spec.Alias(),
		Image:     spec.Image(),
		Ports:     spec.Ports(),
		DependsOn: spec.DependsOn(),
		Readiness: spec.Readiness().String(),
		Env:       logging.RedactEnv(spec.Env()),
	}
}

// printPlanYaml prints the plan for scripts, always with redacted environments.
func printPlanYaml(cmd *cobra.Command, specs []*service.Spec, workloadConfig workload.Config) error {
	plan, err := scheduler.NewPlan(specs)
	if err != nil {
		return harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
	}
	doc := planDocument{Waves: plan.Waves(), Command: workloadConfig.Command}
	for _, name := range plan.Order() {
		doc.Services = append(doc.Services, newPlanService(plan.Spec(name)))
	}
	if workloadConfig.Service != nil {
		w := newPlanService(workloadConfig.Service)
		doc.Workload = &w
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return errors.WithStack(err)
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ", ")
}
