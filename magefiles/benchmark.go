//go:build mage

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

// Benchmark builds the harness and runs one benchmark with the default configuration.
// Settings come from the environment as in CI; IMAGE_NAME and APP_GIT_COMMIT are required.
func Benchmark() error {
	mg.Deps(dockerCheck, Build)
	for _, name := range []string{"IMAGE_NAME", "APP_GIT_COMMIT"} {
		if os.Getenv(name) == "" {
			return errors.Errorf("%s must be set", name)
		}
	}
	timeTaken := time.Now()
	err := sh.RunV(binaryWithExt(benchmarkBinary), "run")
	fmt.Println("Time to benchmark:", time.Since(timeTaken))
	return err
}

// Validates the benchmark configuration without starting anything.
func BenchmarkValidate() error {
	mg.Deps(Build)
	return sh.RunV(binaryWithExt(benchmarkBinary), "validate")
}

// Lists recorded benchmark runs.
func BenchmarkRuns() error {
	mg.Deps(Build)
	return sh.RunV(binaryWithExt(benchmarkBinary), "runs")
}
