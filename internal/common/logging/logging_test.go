package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, ConfigureLogging(Config{Level: "debug", Format: FormatJson}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, ConfigureLogging(Config{}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
}

func TestConfigureLogging_Invalid(t *testing.T) {
	assert.Error(t, ConfigureLogging(Config{Level: "loud"}))
	assert.Error(t, ConfigureLogging(Config{Level: "info", Format: "xml"}))
}

func TestStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	NewStreamLogger(&buf).Info("[k6] running")
	assert.Equal(t, "[k6] running\n", buf.String())
}

func TestWithStacktrace(t *testing.T) {
	err := errors.New("test error")
	entry := WithStacktrace(logrus.NewEntry(NullLogger), err)
	assert.Equal(t, err, entry.Data[logrus.ErrorKey])
	assert.Equal(t, err.(stackTracer).StackTrace(), entry.Data[Stacktrace])
}

func TestWithStacktrace_Stage(t *testing.T) {
	err := errors.WithStack(&harnesserrors.ErrReadinessTimeout{Service: "postgres", Timeout: time.Second})
	entry := WithStacktrace(logrus.NewEntry(NullLogger), err)
	assert.Equal(t, "startup", entry.Data[Stage])
	assert.NotNil(t, entry.Data[Stacktrace])

	entry = WithStacktrace(logrus.NewEntry(NullLogger), errors.New("plain"))
	assert.NotContains(t, entry.Data, Stage)
}

func TestExtractStack_FollowsStageWrapping(t *testing.T) {
	inner := errors.New("inner")
	wrapped := harnesserrors.WithStage(inner, harnesserrors.StageRecord)
	assert.Equal(t, inner.(stackTracer).StackTrace(), ExtractStack(wrapped))
}

func TestExtractStack_FollowsCause(t *testing.T) {
	inner := errors.New("inner")
	wrapped := errors.WithMessage(inner, "outer")
	assert.Equal(t, inner.(stackTracer).StackTrace(), ExtractStack(wrapped))
}

func TestExtractStack_NoStack(t *testing.T) {
	assert.Nil(t, ExtractStack(&customError{}))
}

func TestRedactEnv(t *testing.T) {
	env := map[string]string{
		"SPRING_DATASOURCE_PASSWORD": "hunter2",
		"POSTGRES_DB":                "bench",
		"API_KEY":                    "abc",
	}
	assert.Equal(t,
		[]string{"API_KEY=<redacted>", "POSTGRES_DB=bench", "SPRING_DATASOURCE_PASSWORD=<redacted>"},
		RedactEnv(env))
}

type customError struct{}

func (*customError) Error() string { return "custom" }
