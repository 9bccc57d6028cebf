package main

import (
	"fmt"
	"io"
	"os"

	"github.com/EAexist/subscription-killer-api-benchmark/cmd/benchmark/cmd"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

func main() {
	os.Exit(run(logging.Config{}, os.Args[1:], os.Stderr))
}

// run returns the process exit code.
func run(config logging.Config, args []string, stderr io.Writer) int {
	if err := logging.ConfigureLogging(config); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error configuring logging: %v\n", err)
		return harnesserrors.ExitCodeFromError(harnesserrors.WithStage(err, harnesserrors.StageConfiguration))
	}
	root := cmd.RootCmd()
	root.SetArgs(args)
	return harnesserrors.ExitCodeFromError(root.Execute())
}
