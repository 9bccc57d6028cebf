// Package harnesserrors contains the typed errors returned by the stages of a benchmark run.
// The CLI looks for the error types defined in this file to report the stage at which a run failed
// and to choose the process exit code.
//
// Errors should be wrapped with github.com/pkg/errors (WithStack, WithMessage) rather than
// replaced, so that errors.As can find them further up the call chain.
package harnesserrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Stage names the part of a benchmark run during which an error occurred.
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StageStartup       Stage = "startup"
	StageWorkload      Stage = "workload"
	StageRecord        Stage = "record"
	StageCapture       Stage = "capture"
	StageTeardown      Stage = "teardown"
	StageUnknown       Stage = "unknown"
)

// ErrConfiguration is returned for invalid settings, unknown dependency references and dependency cycles.
// It is always detected before any service is started.
type ErrConfiguration struct {
	Name    string      // Name of the setting referred to, e.g., "services[app].dependsOn"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrConfiguration) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for setting %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for setting %q; %s", err.Value, err.Name, err.Message)
}

// ErrMissingConfiguration is returned when a required setting has not been provided.
type ErrMissingConfiguration struct {
	Name string
}

func (err *ErrMissingConfiguration) Error() string {
	return fmt.Sprintf("required setting %q is not set", err.Name)
}

// ErrReadinessTimeout is returned when a service did not satisfy its readiness condition in time.
type ErrReadinessTimeout struct {
	Service   string
	Condition string
	Timeout   time.Duration
	// Last probe error observed before giving up, if any
	LastError error
}

func (err *ErrReadinessTimeout) Error() string {
	s := fmt.Sprintf("service %q did not become ready (%s) within %s", err.Service, err.Condition, err.Timeout)
	if err.LastError != nil {
		s += fmt.Sprintf("; last probe error: %v", err.LastError)
	}
	return s
}

// ErrWorkloadTimeout is returned when the traffic generator neither printed its completion marker nor exited in time.
type ErrWorkloadTimeout struct {
	Timeout   time.Duration
	Sentinel  string
	LinesSeen int
}

func (err *ErrWorkloadTimeout) Error() string {
	return fmt.Sprintf("workload did not report %q or exit within %s (%d lines of output seen)", err.Sentinel, err.Timeout, err.LinesSeen)
}

// ErrTelemetryCapture is returned when one telemetry source could not be captured.
// It is recovered by the caller: the source's file is omitted and the run continues.
type ErrTelemetryCapture struct {
	Source     string
	URI        string
	StatusCode int
	Cause      error
}

func (err *ErrTelemetryCapture) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("capturing %s telemetry from %s failed: %v", err.Source, err.URI, err.Cause)
	}
	return fmt.Sprintf("capturing %s telemetry from %s failed: unexpected status %d", err.Source, err.URI, err.StatusCode)
}

func (err *ErrTelemetryCapture) Unwrap() error {
	return err.Cause
}

// ErrDirectoryCreation is returned when the run record directory could not be created.
type ErrDirectoryCreation struct {
	Path  string
	Cause error
}

func (err *ErrDirectoryCreation) Error() string {
	return fmt.Sprintf("could not create run directory %s: %v", err.Path, err.Cause)
}

func (err *ErrDirectoryCreation) Unwrap() error {
	return err.Cause
}

// StageFromError maps error types to the stage of the run they belong to.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func StageFromError(err error) Stage {
	if err == nil {
		return ""
	}
	{
		var e *ErrMissingConfiguration
		if errors.As(err, &e) {
			return StageConfiguration
		}
	}
	{
		var e *ErrConfiguration
		if errors.As(err, &e) {
			return StageConfiguration
		}
	}
	{
		var e *ErrReadinessTimeout
		if errors.As(err, &e) {
			return StageStartup
		}
	}
	{
		var e *ErrWorkloadTimeout
		if errors.As(err, &e) {
			return StageWorkload
		}
	}
	{
		var e *ErrDirectoryCreation
		if errors.As(err, &e) {
			return StageRecord
		}
	}
	{
		var e *ErrTelemetryCapture
		if errors.As(err, &e) {
			return StageCapture
		}
	}
	{
		var e *stageError
		if errors.As(err, &e) {
			return e.stage
		}
	}
	return StageUnknown
}

// ExitCodeFromError maps an error to the process exit code of the benchmark command.
func ExitCodeFromError(err error) int {
	switch StageFromError(err) {
	case "":
		return 0
	case StageConfiguration:
		return 2
	case StageStartup:
		return 3
	case StageWorkload:
		return 4
	case StageRecord:
		return 5
	default:
		return 1
	}
}

// WithStage annotates err with the stage it occurred in, unless the error chain already identifies one.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	if StageFromError(err) != StageUnknown {
		return err
	}
	return &stageError{stage: stage, cause: err}
}

type stageError struct {
	stage Stage
	cause error
}

func (err *stageError) Error() string {
	return fmt.Sprintf("%s: %v", err.stage, err.cause)
}

func (err *stageError) Cause() error {
	return err.cause
}

func (err *stageError) Unwrap() error {
	return err.cause
}
