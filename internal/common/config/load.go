package config

import (
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

// LoadOptions controls where LoadConfig looks for settings.
type LoadOptions struct {
	// Base config file. A missing file is not an error.
	DefaultPath string
	// Config file given by the user. Merged over the base file and must exist.
	UserPath string
	// Prefix for automatic environment overrides, e.g. BENCHMARK makes BENCHMARK_WORKLOAD_ITERATIONS
	// override workload.iterations.
	EnvPrefix string
	// Additional environment variable names per config key, checked in order.
	EnvBindings map[string][]string
}

// LoadConfig reads the config files described by opts into v, applies environment overrides
// and unmarshals the result into config.
func LoadConfig(v *viper.Viper, config interface{}, opts LoadOptions) error {
	v.SetConfigType("yaml")
	if opts.DefaultPath != "" {
		path, err := homedir.Expand(opts.DefaultPath)
		if err != nil {
			return errors.WithStack(err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return errors.Wrapf(err, "error reading config file %s", path)
			}
			log.Debugf("No default config found at %s", path)
		}
	}
	if opts.UserPath != "" {
		path, err := homedir.Expand(opts.UserPath)
		if err != nil {
			return errors.WithStack(err)
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return errors.WithStack(&harnesserrors.ErrConfiguration{
				Name:    "config",
				Value:   path,
				Message: err.Error(),
			})
		}
		log.Infof("Read config from %s", path)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range opts.EnvBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return errors.WithStack(err)
		}
	}

	if err := v.Unmarshal(config, CustomHooks...); err != nil {
		return errors.WithStack(&harnesserrors.ErrConfiguration{
			Name:    "config",
			Value:   v.ConfigFileUsed(),
			Message: err.Error(),
		})
	}
	return nil
}
