package harnesserrors

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStageFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Stage
	}{
		"nil":                                  {nil, ""},
		"ErrConfiguration":                     {&ErrConfiguration{}, StageConfiguration},
		"ErrMissingConfiguration":              {&ErrMissingConfiguration{Name: "revision"}, StageConfiguration},
		"ErrReadinessTimeout":                  {&ErrReadinessTimeout{Service: "db"}, StageStartup},
		"ErrWorkloadTimeout":                   {&ErrWorkloadTimeout{}, StageWorkload},
		"ErrDirectoryCreation":                 {&ErrDirectoryCreation{}, StageRecord},
		"ErrTelemetryCapture":                  {&ErrTelemetryCapture{}, StageCapture},
		"pkg.Error => ErrReadinessTimeout":     {errors.WithMessage(&ErrReadinessTimeout{}, "foo"), StageStartup},
		"pkg.Error => ErrWorkloadTimeout":      {errors.WithStack(&ErrWorkloadTimeout{}), StageWorkload},
		"pkg.Error":                            {errors.New("foo"), StageUnknown},
		"WithStage":                            {WithStage(errors.New("foo"), StageTeardown), StageTeardown},
		"WithStage keeps existing stage":       {WithStage(&ErrDirectoryCreation{}, StageCapture), StageRecord},
		"pkg.Error => WithStage => pkg.Error":  {errors.WithMessage(WithStage(errors.New("x"), StageStartup), "y"), StageStartup},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, StageFromError(tc.err))
		})
	}
}

func TestExitCodeFromError(t *testing.T) {
	assert.Equal(t, 0, ExitCodeFromError(nil))
	assert.Equal(t, 2, ExitCodeFromError(&ErrConfiguration{}))
	assert.Equal(t, 3, ExitCodeFromError(errors.WithStack(&ErrReadinessTimeout{})))
	assert.Equal(t, 4, ExitCodeFromError(&ErrWorkloadTimeout{}))
	assert.Equal(t, 5, ExitCodeFromError(&ErrDirectoryCreation{}))
	assert.Equal(t, 1, ExitCodeFromError(errors.New("foo")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		`service "zipkin" did not become ready (http GET /health == 200) within 2s; last probe error: connection refused`,
		(&ErrReadinessTimeout{
			Service:   "zipkin",
			Condition: "http GET /health == 200",
			Timeout:   2 * time.Second,
			LastError: errors.New("connection refused"),
		}).Error())
	assert.Equal(t, `required setting "imageName" is not set`, (&ErrMissingConfiguration{Name: "imageName"}).Error())
	assert.Equal(t,
		`capturing prometheus telemetry from http://app/actuator/prometheus failed: unexpected status 500`,
		(&ErrTelemetryCapture{Source: "prometheus", URI: "http://app/actuator/prometheus", StatusCode: 500}).Error())
}

func TestErrTelemetryCapture_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := errors.WithStack(&ErrTelemetryCapture{Source: "zipkin", Cause: cause})
	assert.True(t, errors.Is(err, cause))
}
