package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

type level int

func (l *level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*l = 1
	case "high":
		*l = 2
	default:
		*l = 0
	}
	return nil
}

type testConfig struct {
	Name     string `validate:"required"`
	Count    int    `validate:"gte=0"`
	Timeout  time.Duration
	Wait     time.Duration
	Level    level
	Tags     []string
	Nested   struct{ Url string }
	Optional string
}

func writeFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", `
name: base
count: 3
timeout: 5m
wait: 300000
level: high
tags: [a, b]
nested:
  url: http://localhost
`)
	user := writeFile(t, dir, "user.yaml", "count: 7\n")

	var c testConfig
	err := LoadConfig(viper.New(), &c, LoadOptions{DefaultPath: base, UserPath: user})
	require.NoError(t, err)

	assert.Equal(t, "base", c.Name)
	assert.Equal(t, 7, c.Count)
	assert.Equal(t, 5*time.Minute, c.Timeout)
	assert.Equal(t, 300*time.Second, c.Wait)
	assert.Equal(t, level(2), c.Level)
	assert.Equal(t, []string{"a", "b"}, c.Tags)
	assert.Equal(t, "http://localhost", c.Nested.Url)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "name: base\ncount: 1\nwait: 10\nnested:\n  url: x\n")
	t.Setenv("TESTCFG_COUNT", "4")
	t.Setenv("TESTCFG_NESTED_URL", "http://env")
	t.Setenv("LEGACY_WAIT_MS", "2500")

	var c testConfig
	err := LoadConfig(viper.New(), &c, LoadOptions{
		DefaultPath: base,
		EnvPrefix:   "TESTCFG",
		EnvBindings: map[string][]string{"wait": {"LEGACY_WAIT_MS"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Count)
	assert.Equal(t, "http://env", c.Nested.Url)
	assert.Equal(t, 2500*time.Millisecond, c.Wait)
}

func TestLoadConfig_MissingDefaultIsFine(t *testing.T) {
	var c testConfig
	err := LoadConfig(viper.New(), &c, LoadOptions{DefaultPath: filepath.Join(t.TempDir(), "nope.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "", c.Name)
}

func TestLoadConfig_MissingUserFile(t *testing.T) {
	var c testConfig
	err := LoadConfig(viper.New(), &c, LoadOptions{UserPath: filepath.Join(t.TempDir(), "nope.yaml")})
	var configErr *harnesserrors.ErrConfiguration
	assert.ErrorAs(t, err, &configErr)
}

func TestValidate(t *testing.T) {
	err := Validate(testConfig{})
	var missing *harnesserrors.ErrMissingConfiguration
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Name", missing.Name)

	err = Validate(testConfig{Name: "x", Count: -1})
	var invalid *harnesserrors.ErrConfiguration
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "Count", invalid.Name)

	assert.NoError(t, Validate(testConfig{Name: "x"}))
}

func TestDurationDecodeHook(t *testing.T) {
	tests := map[string]struct {
		input    interface{}
		expected time.Duration
	}{
		"duration string": {input: "5m", expected: 5 * time.Minute},
		"millis string":   {input: "1500", expected: 1500 * time.Millisecond},
		"millis int":      {input: 250, expected: 250 * time.Millisecond},
		"empty":           {input: "", expected: 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out struct{ D time.Duration }
			v := viper.New()
			v.Set("d", tc.input)
			require.NoError(t, v.Unmarshal(&out, CustomHooks...))
			assert.Equal(t, tc.expected, out.D)
		})
	}
}
