// Package docker runs benchmark services as containers on a user-defined bridge network.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

const (
	PullMissing = "missing"
	PullAlways  = "always"
	PullNever   = "never"

	LabelRun     = "benchmark.run"
	LabelService = "benchmark.service"

	DefaultMinimumVersion = ">= 20.10.0"
)

// dockerAPI is the subset of the docker client used here.
type dockerAPI interface {
	ServerVersion(ctx context.Context) (types.Version, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

type Options struct {
	// Identifies the run; used in container and network names and as a label.
	RunID string
	// Network all services join. Defaults to benchmark-<RunID>.
	NetworkName string
	// One of missing, always, never.
	PullPolicy string
	// Host interface published ports bind to.
	HostIP      string
	StopTimeout time.Duration
}

// Runtime implements runtime.Runtime on top of the docker engine API.
type Runtime struct {
	api     dockerAPI
	options Options

	mu        sync.Mutex
	networkID string
}

// NewFromEnv connects to the docker daemon configured by the standard DOCKER_* environment variables.
func NewFromEnv(options Options) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "error creating docker client")
	}
	return New(cli, options), nil
}

func New(api dockerAPI, options Options) *Runtime {
	if options.NetworkName == "" {
		options.NetworkName = "benchmark-" + options.RunID
	}
	if options.PullPolicy == "" {
		options.PullPolicy = PullMissing
	}
	if options.HostIP == "" {
		options.HostIP = "127.0.0.1"
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = 10 * time.Second
	}
	return &Runtime{api: api, options: options}
}

func (r *Runtime) NetworkName() string {
	return r.options.NetworkName
}

// CheckVersion fails if the daemon is unreachable or its version does not satisfy constraint,
// e.g. ">= 20.10.0". An empty constraint only checks that the daemon answers.
func (r *Runtime) CheckVersion(ctx context.Context, constraint string) error {
	version, err := r.api.ServerVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "docker daemon is not reachable")
	}
	if constraint == "" {
		return nil
	}
	return checkVersion(version.Version, constraint)
}

func checkVersion(version, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "invalid docker version constraint %q", constraint)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(err, "cannot parse docker version %q", version)
	}
	if !c.Check(v) {
		return errors.Errorf("found docker version %s but it failed the required constraint: %s", v, c)
	}
	return nil
}

func (r *Runtime) Setup(ctx context.Context) error {
	resp, err := r.api.NetworkCreate(ctx, r.options.NetworkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{LabelRun: r.options.RunID},
	})
	if err != nil {
		return errors.Wrapf(err, "error creating network %s", r.options.NetworkName)
	}
	r.mu.Lock()
	r.networkID = resp.ID
	r.mu.Unlock()
	log.Infof("Created network %s", r.options.NetworkName)
	return nil
}

func (r *Runtime) Teardown(ctx context.Context) error {
	r.mu.Lock()
	id := r.networkID
	r.networkID = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := r.api.NetworkRemove(ctx, id); err != nil {
		return errors.Wrapf(err, "error removing network %s", r.options.NetworkName)
	}
	log.Infof("Removed network %s", r.options.NetworkName)
	return nil
}

func (r *Runtime) Start(ctx context.Context, spec *service.Spec) (runtime.Instance, error) {
	if err := r.ensureImage(ctx, spec.Image()); err != nil {
		return nil, err
	}

	exposed, bindings, err := portBindings(spec.Ports(), r.options.HostIP)
	if err != nil {
		return nil, err
	}
	config := &container.Config{
		Image:        spec.Image(),
		Env:          spec.EnvList(),
		Cmd:          spec.Command(),
		ExposedPorts: exposed,
		Labels: map[string]string{
			LabelRun:     r.options.RunID,
			LabelService: spec.Name(),
		},
	}
	binds, err := absoluteBinds(spec.Binds())
	if err != nil {
		return nil, err
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds,
	}
	networkingConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			r.options.NetworkName: {Aliases: []string{spec.Alias()}},
		},
	}

	name := containerName(r.options.RunID, spec.Name())
	log.WithField("service", spec.Name()).Debugf("Creating container %s from %s with env %v", name, spec.Image(), logging.RedactEnv(spec.Env()))
	created, err := r.api.ContainerCreate(ctx, config, hostConfig, networkingConfig, nil, name)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating container for %s", spec.Name())
	}
	inst := &Instance{api: r.api, id: created.ID, name: spec.Name(), stopTimeout: r.options.StopTimeout}
	if err := r.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// The container exists but never ran; remove it so nothing leaks.
		_ = r.api.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		return nil, errors.Wrapf(err, "error starting container for %s", spec.Name())
	}
	inspected, err := r.api.ContainerInspect(ctx, created.ID)
	if err != nil {
		return inst, errors.Wrapf(err, "error inspecting container for %s", spec.Name())
	}
	if inspected.NetworkSettings != nil {
		inst.ports = inspected.NetworkSettings.Ports
	}
	return inst, nil
}

func (r *Runtime) ensureImage(ctx context.Context, image string) error {
	switch r.options.PullPolicy {
	case PullNever:
		return nil
	case PullMissing:
		if _, _, err := r.api.ImageInspectWithRaw(ctx, image); err == nil {
			return nil
		} else if !client.IsErrNotFound(err) {
			return errors.Wrapf(err, "error inspecting image %s", image)
		}
	}
	log.Infof("Pulling image %s", image)
	reader, err := r.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "error pulling image %s", image)
	}
	defer reader.Close()
	// The pull only completes once the progress stream has been consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errors.Wrapf(err, "error pulling image %s", image)
	}
	return nil
}

// absoluteBinds resolves host paths written relative to the working directory, e.g. ./scripts:/scripts.
// Docker would otherwise read them as volume names.
func absoluteBinds(binds []string) ([]string, error) {
	out := make([]string, 0, len(binds))
	for _, bind := range binds {
		host, rest, found := strings.Cut(bind, ":")
		if found && (host == "." || host == ".." || strings.HasPrefix(host, "./") || strings.HasPrefix(host, "../")) {
			abs, err := filepath.Abs(host)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			bind = abs + ":" + rest
		}
		out = append(out, bind)
	}
	return out, nil
}

func containerName(runID, serviceName string) string {
	if runID == "" {
		return "benchmark-" + serviceName
	}
	return fmt.Sprintf("benchmark-%s-%s", runID, serviceName)
}

func portBindings(ports service.PortSet, hostIP string) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(p))
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		exposed[port] = struct{}{}
		// An empty host port lets the daemon pick a free one.
		bindings[port] = []nat.PortBinding{{HostIP: hostIP, HostPort: ""}}
	}
	return exposed, bindings, nil
}

// Instance is a running container.
type Instance struct {
	api         dockerAPI
	id          string
	name        string
	ports       nat.PortMap
	stopTimeout time.Duration
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) HostAddress(containerPort int) (string, error) {
	return hostAddress(i.ports, containerPort)
}

func hostAddress(ports nat.PortMap, containerPort int) (string, error) {
	var fallback string
	for _, b := range ports[nat.Port(fmt.Sprintf("%d/tcp", containerPort))] {
		if b.HostPort == "" {
			continue
		}
		switch host := b.HostIP; {
		case host == "" || host == "0.0.0.0":
			return net.JoinHostPort("127.0.0.1", b.HostPort), nil
		case host == "::":
			fallback = net.JoinHostPort("::1", b.HostPort)
		case strings.Contains(host, ":"):
			fallback = net.JoinHostPort(host, b.HostPort)
		default:
			return net.JoinHostPort(host, b.HostPort), nil
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errors.Errorf("container port %d is not published", containerPort)
}

func (i *Instance) Logs(ctx context.Context, follow bool) (io.ReadCloser, error) {
	raw, err := i.api.ContainerLogs(ctx, i.id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: follow})
	if err != nil {
		return nil, errors.Wrapf(err, "error reading logs of %s", i.name)
	}
	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		// Containers run without a tty, so stdout and stderr arrive multiplexed.
		_, err := stdcopy.StdCopy(pw, pw, raw)
		_ = pw.CloseWithError(err)
	}()
	return pr, nil
}

func (i *Instance) Wait(ctx context.Context) (int64, error) {
	statusCh, errCh := i.api.ContainerWait(ctx, i.id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.Errorf("error waiting for %s: %s", i.name, status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return 0, errors.Wrapf(err, "error waiting for %s", i.name)
	}
}

func (i *Instance) Stop(ctx context.Context) error {
	timeout := int(i.stopTimeout.Seconds())
	if err := i.api.ContainerStop(ctx, i.id, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "error stopping %s", i.name)
	}
	if err := i.api.ContainerRemove(ctx, i.id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "error removing %s", i.name)
	}
	return nil
}
