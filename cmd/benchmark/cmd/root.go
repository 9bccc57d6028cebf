package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/configuration"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/logging"
)

const (
	CustomConfigLocation  = "config"
	DefaultConfigLocation = "defaultConfig"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "benchmark",
		SilenceUsage: true,
		Short:        "benchmark runs the application under test against a load generator and records its telemetry.",
	}

	cmd.PersistentFlags().String(
		CustomConfigLocation,
		"",
		"Path to a config file merged over the default configuration")
	cmd.PersistentFlags().String(
		DefaultConfigLocation,
		configuration.DefaultConfigPath,
		"Path to the default configuration")

	cmd.AddCommand(
		runCmd(),
		validateCmd(),
		planCmd(),
		runsCmd(),
		versionCmd(),
	)

	return cmd
}

// loadConfig loads the configuration, letting any of the given flags that were set on the command
// line override the config key they are bound to.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*configuration.BenchmarkConfig, error) {
	v := viper.New()
	for key, flag := range changedOnly(cmd.Flags(), bindings) {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	defaultPath, _ := cmd.Flags().GetString(DefaultConfigLocation)
	userPath, _ := cmd.Flags().GetString(CustomConfigLocation)

	config, err := configuration.LoadFrom(v, defaultPath, userPath)
	if err != nil {
		return nil, err
	}
	if err := logging.ConfigureLogging(config.Logging); err != nil {
		return nil, err
	}
	return config, nil
}

// changedOnly drops bindings of flags that were not set. An unset flag's default would otherwise
// stand in for keys missing from the configuration.
func changedOnly(flags *pflag.FlagSet, bindings map[string]string) map[string]string {
	out := map[string]string{}
	for key, flag := range bindings {
		if flags.Changed(flag) {
			out[key] = flag
		}
	}
	return out
}
