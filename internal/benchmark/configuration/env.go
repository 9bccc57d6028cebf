package configuration

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/subosito/gotenv"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

// Lookup resolves a variable referenced from the config file.
type Lookup func(name string) (string, bool)

// NewLookup consults the process environment first and then file. Empty values count as unset,
// so an exported but empty variable does not hide the file's value.
func NewLookup(environ func(string) (string, bool), file map[string]string) Lookup {
	return func(name string) (string, bool) {
		if environ != nil {
			if value, ok := environ(name); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value), true
			}
		}
		if value, ok := file[name]; ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		return "", false
	}
}

// SharedEnv returns the contents of EnvFile, or EnvFileFallback if the file does not exist.
func (c *BenchmarkConfig) SharedEnv() (map[string]string, error) {
	if c.EnvFile == "" {
		return parseEnvList("envFileFallback", c.EnvFileFallback)
	}
	env, err := gotenv.Read(c.EnvFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("%s not found, using fallback environment", c.EnvFile)
			return parseEnvList("envFileFallback", c.EnvFileFallback)
		}
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{Name: "envFile", Value: c.EnvFile, Message: err.Error()})
	}
	return env, nil
}

func parseEnvList(field string, entries []string) (map[string]string, error) {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, err := splitEnvEntry(field, entry)
		if err != nil {
			return nil, err
		}
		env[key] = value
	}
	return env, nil
}

func splitEnvEntry(field, entry string) (string, string, error) {
	key, value, found := strings.Cut(entry, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", errors.WithStack(&harnesserrors.ErrConfiguration{Name: field, Value: entry, Message: "expected KEY=VALUE"})
	}
	return key, value, nil
}

// Expand replaces ${NAME}, ${NAME:-default} and ${NAME##*/} references in s.
// A reference to an unset variable without a default is an ErrMissingConfiguration.
func Expand(s string, lookup Lookup) (string, error) {
	var missing string
	expanded := os.Expand(s, func(ref string) string {
		name, value, ok := resolve(ref, lookup)
		if !ok && missing == "" {
			missing = name
		}
		return value
	})
	if missing != "" {
		return "", errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: missing})
	}
	return expanded, nil
}

func resolve(ref string, lookup Lookup) (string, string, bool) {
	if name, def, found := strings.Cut(ref, ":-"); found {
		if value, ok := lookup(name); ok {
			return name, value, true
		}
		return name, def, true
	}
	if name, found := strings.CutSuffix(ref, "##*/"); found {
		value, ok := lookup(name)
		if !ok {
			return name, "", false
		}
		return name, value[strings.LastIndex(value, "/")+1:], true
	}
	value, ok := lookup(ref)
	return ref, value, ok
}
