package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/harness"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Checks the configuration and the variables it references without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd, runFlagBindings)
			if err != nil {
				return err
			}
			if _, _, err := harness.Resolve(config, os.LookupEnv); err != nil {
				return harnesserrors.WithStage(err, harnesserrors.StageConfiguration)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}
