package service

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/subosito/gotenv"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

// PortSet is a set of container ports. It decodes from a YAML list or a comma separated string.
type PortSet []int

func (p *PortSet) UnmarshalText(text []byte) error {
	var ports PortSet
	for _, field := range strings.Split(string(text), ",") {
		field = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(field), "/tcp"))
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return errors.Errorf("invalid port %q", field)
		}
		ports = append(ports, port)
	}
	*p = ports
	return nil
}

// Config is the user supplied description of a service, as found in the config file.
type Config struct {
	Name  string `validate:"required"`
	Alias string
	Image string `validate:"required"`
	Ports PortSet
	Env   map[string]string
	// Optional dotenv style file merged underneath Env
	EnvFile   string
	Readiness Readiness
	DependsOn []string
	Command   []string
	// Host bind mounts in docker's host:container[:mode] syntax
	Binds []string
}

// Spec is the immutable description of one managed service.
// Construct with NewSpec; accessors return copies.
type Spec struct {
	name      string
	alias     string
	image     string
	ports     PortSet
	env       map[string]string
	readiness Readiness
	dependsOn []string
	command   []string
	binds     []string
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// NewSpec validates config and builds a Spec from it. Values from EnvFile are overridden by Env.
func NewSpec(config Config) (*Spec, error) {
	field := func(f string) string { return "services[" + config.Name + "]." + f }

	if config.Name == "" {
		return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "services[].name"})
	}
	if !namePattern.MatchString(config.Name) {
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{
			Name:    "services[].name",
			Value:   config.Name,
			Message: "must start with a letter or digit and contain only letters, digits, '_', '.' or '-'",
		})
	}
	if config.Image == "" {
		return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: field("image")})
	}
	for _, port := range config.Ports {
		if port <= 0 || port > 65535 {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("ports"), Value: strconv.Itoa(port), Message: "port out of range"})
		}
	}

	env := map[string]string{}
	if config.EnvFile != "" {
		fileEnv, err := gotenv.Read(config.EnvFile)
		if err != nil {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("envFile"), Value: config.EnvFile, Message: err.Error()})
		}
		maps.Copy(env, fileEnv)
	}
	maps.Copy(env, config.Env)

	readiness := config.Readiness.withDefaults(config.Ports)
	if !readinessKinds[readiness.Kind] {
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("readiness.kind"), Value: string(readiness.Kind), Message: "unknown readiness kind"})
	}
	switch readiness.Kind {
	case ReadinessLog:
		if readiness.Pattern == "" {
			return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: field("readiness.pattern")})
		}
		if _, err := regexp.Compile(readiness.Pattern); err != nil {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("readiness.pattern"), Value: readiness.Pattern, Message: err.Error()})
		}
	case ReadinessHttp, ReadinessTcp, ReadinessPostgres, ReadinessRedis:
		if readiness.Port == 0 {
			return nil, errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: field("readiness.port")})
		}
	}
	if readiness.Interval >= time.Second {
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("readiness.interval"), Value: readiness.Interval.String(), Message: "must be below one second"})
	}

	dependsOn := make([]string, 0, len(config.DependsOn))
	for _, dep := range config.DependsOn {
		if dep == config.Name {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: field("dependsOn"), Value: dep, Message: "a service cannot depend on itself"})
		}
		if !slices.Contains(dependsOn, dep) {
			dependsOn = append(dependsOn, dep)
		}
	}

	alias := config.Alias
	if alias == "" {
		alias = config.Name
	}
	ports := slices.Clone(config.Ports)
	sort.Ints(ports)
	ports = slices.Compact(ports)

	return &Spec{
		name:      config.Name,
		alias:     alias,
		image:     config.Image,
		ports:     ports,
		env:       env,
		readiness: readiness,
		dependsOn: dependsOn,
		command:   slices.Clone(config.Command),
		binds:     slices.Clone(config.Binds),
	}, nil
}

func (s *Spec) Name() string { return s.name }
func (s *Spec) Alias() string { return s.alias }
func (s *Spec) Image() string { return s.image }

func (s *Spec) Ports() PortSet { return slices.Clone(s.ports) }

func (s *Spec) Env() map[string]string { return maps.Clone(s.env) }

// EnvList renders the environment as sorted KEY=VALUE pairs.
func (s *Spec) EnvList() []string {
	keys := maps.Keys(s.env)
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.env[k])
	}
	return out
}

func (s *Spec) Readiness() Readiness { return s.readiness }
func (s *Spec) DependsOn() []string { return slices.Clone(s.dependsOn) }
func (s *Spec) Command() []string { return slices.Clone(s.command) }
func (s *Spec) Binds() []string { return slices.Clone(s.binds) }
func (s *Spec) HasDependencies() bool { return len(s.dependsOn) > 0 }

// WithEnv returns a copy of s with extra merged over its environment.
func (s *Spec) WithEnv(extra map[string]string) *Spec {
	c := *s
	c.env = maps.Clone(s.env)
	maps.Copy(c.env, extra)
	return &c
}

// WithCommand returns a copy of s running command instead.
func (s *Spec) WithCommand(command []string) *Spec {
	c := *s
	c.command = slices.Clone(command)
	return &c
}
