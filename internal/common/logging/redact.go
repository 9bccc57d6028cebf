package logging

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const redacted = "<redacted>"

var sensitiveKeyFragments = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL"}

// RedactEnv renders env as sorted KEY=VALUE pairs, hiding the values of keys that look like credentials.
func RedactEnv(env map[string]string) []string {
	keys := maps.Keys(env)
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := env[k]
		if IsSensitive(k) {
			v = redacted
		}
		out = append(out, k+"="+v)
	}
	return out
}

func IsSensitive(key string) bool {
	upper := strings.ToUpper(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(upper, fragment) {
			return true
		}
	}
	return false
}
