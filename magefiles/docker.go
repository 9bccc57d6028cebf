//go:build mage

package main

import (
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

// The harness talks to the daemon, so it is the server version that has to satisfy this.
const DOCKER_SERVER_VERSION_CONSTRAINT = ">= 20.10.0"

func dockerBinary() string {
	return binaryWithExt("docker")
}

// dockerServerVersion fails if the daemon cannot be reached.
func dockerServerVersion() (*semver.Version, error) {
	output, err := sh.Output(dockerBinary(), "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return nil, errors.Errorf("docker daemon unavailable: %v", err)
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, errors.New("docker daemon did not report a version")
	}
	version, err := semver.NewVersion(output)
	if err != nil {
		return nil, errors.Errorf("error parsing docker server version %q: %v", output, err)
	}
	// Distribution builds report versions such as "24.0.7-ce", which constraints treat as prereleases.
	release, err := version.SetPrerelease("")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &release, nil
}

func dockerCheck() error {
	version, err := dockerServerVersion()
	if err != nil {
		return err
	}
	return checkConstraint("docker server", version, DOCKER_SERVER_VERSION_CONSTRAINT)
}
