package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

// Fields added by WithStacktrace.
const (
	Stacktrace = "stacktrace"
	Stage      = "stage"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStacktrace adds err to the entry together with the stage of the run it belongs to and
// the outermost stack trace recorded in its chain. Fields that cannot be determined are left out.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	fields := logrus.Fields{logrus.ErrorKey: err}
	if stage := harnesserrors.StageFromError(err); stage != "" && stage != harnesserrors.StageUnknown {
		fields[Stage] = string(stage)
	}
	if stack := ExtractStack(err); stack != nil {
		fields[Stacktrace] = stack
	}
	return logger.WithFields(fields)
}

// ExtractStack unwraps err until it finds an error carrying a pkg/errors stack trace.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		if traced, ok := err.(stackTracer); ok {
			return traced.StackTrace()
		}
		err = errors.Unwrap(err)
	}
	return nil
}
