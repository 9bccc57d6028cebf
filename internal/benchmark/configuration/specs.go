package configuration

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/telemetry"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/workload"
)

// Resolver builds specs from a BenchmarkConfig, expanding variable references with lookup.
type Resolver struct {
	config *BenchmarkConfig
	lookup Lookup
	shared map[string]string
}

// NewResolver reads the shared env file once; lookup falls back to it after environ.
func NewResolver(c *BenchmarkConfig, environ func(string) (string, bool)) (*Resolver, error) {
	shared, err := c.SharedEnv()
	if err != nil {
		return nil, err
	}
	return &Resolver{config: c, lookup: NewLookup(environ, shared), shared: shared}, nil
}

// ServiceSpecs builds the specs of every configured service, not including a containerised workload.
func (r *Resolver) ServiceSpecs() ([]*service.Spec, error) {
	specs := make([]*service.Spec, 0, len(r.config.Services))
	for _, s := range r.config.Services {
		if s.Name == r.config.Application.Service && s.Image == "" {
			s.Image = r.config.Run.Image
		}
		spec, err := r.spec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (r *Resolver) spec(s ServiceConfig) (*service.Spec, error) {
	field := func(f string) string { return "services[" + s.Name + "]." + f }
	expand := func(f, value string) (string, error) {
		expanded, err := Expand(value, r.lookup)
		return expanded, errors.WithMessage(err, field(f))
	}
	expandAll := func(f string, values []string) ([]string, error) {
		out := make([]string, 0, len(values))
		for _, value := range values {
			expanded, err := expand(f, value)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded)
		}
		return out, nil
	}

	env := map[string]string{}
	if s.UseEnvFile {
		maps.Copy(env, r.shared)
	}
	for _, entry := range s.Env {
		key, value, err := splitEnvEntry(field("env"), entry)
		if err != nil {
			return nil, err
		}
		if env[key], err = expand("env", value); err != nil {
			return nil, err
		}
	}

	image, err := expand("image", s.Image)
	if err != nil {
		return nil, err
	}
	command, err := expandAll("command", s.Command)
	if err != nil {
		return nil, err
	}
	binds, err := expandAll("binds", s.Binds)
	if err != nil {
		return nil, err
	}
	readiness := s.Readiness
	if readiness.User, err = expand("readiness.user", readiness.User); err != nil {
		return nil, err
	}
	if readiness.Password, err = expand("readiness.password", readiness.Password); err != nil {
		return nil, err
	}
	if readiness.Database, err = expand("readiness.database", readiness.Database); err != nil {
		return nil, err
	}

	return service.NewSpec(service.Config{
		Name:      s.Name,
		Alias:     s.Alias,
		Image:     image,
		Ports:     s.Ports,
		Env:       env,
		EnvFile:   s.EnvFile,
		Readiness: readiness,
		DependsOn: s.DependsOn,
		Command:   command,
		Binds:     binds,
	})
}

// WorkloadConfig builds the runner configuration, including the generator spec in container mode.
func (r *Resolver) WorkloadConfig() (workload.Config, error) {
	w := r.config.Workload
	wc := workload.Config{
		Mode:          w.Mode,
		Name:          w.Name,
		Dir:           w.Dir,
		Sentinel:      w.Sentinel,
		Timeout:       w.Timeout,
		DrainGrace:    w.DrainGrace,
		CountPatterns: w.CountPatterns,
	}
	if w.Mode == workload.ModeProcess {
		command := make([]string, 0, len(w.Command))
		for _, arg := range w.Command {
			expanded, err := Expand(arg, r.lookup)
			if err != nil {
				return workload.Config{}, errors.WithMessage(err, "workload.command")
			}
			command = append(command, expanded)
		}
		wc.Command = command
		return wc, nil
	}
	if w.Service != nil {
		spec, err := r.spec(*w.Service)
		if err != nil {
			return workload.Config{}, err
		}
		wc.Service = spec
	}
	return wc, nil
}

// IterationConfig is what the generator is asked to run.
func (c *BenchmarkConfig) IterationConfig() workload.IterationConfig {
	ic := workload.IterationConfig{
		Endpoint:       c.Workload.Endpoint,
		RequestTimeout: c.Workload.RequestTimeout,
		Verbose:        c.Workload.Verbose,
	}
	if c.Workload.Iterations != nil {
		ic.Iterations = *c.Workload.Iterations
	}
	if c.Workload.WarmupIterations != nil {
		ic.WarmupIterations = *c.Workload.WarmupIterations
	}
	return ic
}

// Metadata is the identity of a run of this configuration. Generated is left for the caller.
func (c *BenchmarkConfig) Metadata() record.Metadata {
	return record.Metadata{
		Image:            c.Run.Image,
		Revision:         c.Run.Revision,
		Tag:              c.Run.Tag,
		Iterations:       c.Workload.Iterations,
		WarmupIterations: c.Workload.WarmupIterations,
		MetricsSource:    "Spring Boot Actuator " + metricsPath(c),
	}
}

func metricsPath(c *BenchmarkConfig) string {
	if c.Telemetry.MetricsPath != "" {
		return c.Telemetry.MetricsPath
	}
	return telemetry.DefaultMetricsPath
}
