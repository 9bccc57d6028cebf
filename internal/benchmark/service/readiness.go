package service

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ReadinessKind selects how a service is probed for readiness.
type ReadinessKind string

const (
	// ReadinessNone treats the service as ready as soon as it has started.
	ReadinessNone     ReadinessKind = "none"
	ReadinessHttp     ReadinessKind = "http"
	ReadinessLog      ReadinessKind = "log"
	ReadinessTcp      ReadinessKind = "tcp"
	ReadinessPostgres ReadinessKind = "postgres"
	ReadinessRedis    ReadinessKind = "redis"
)

var readinessKinds = map[ReadinessKind]bool{
	ReadinessNone:     true,
	ReadinessHttp:     true,
	ReadinessLog:      true,
	ReadinessTcp:      true,
	ReadinessPostgres: true,
	ReadinessRedis:    true,
}

func (k *ReadinessKind) UnmarshalText(text []byte) error {
	kind := ReadinessKind(strings.ToLower(strings.TrimSpace(string(text))))
	if kind == "" {
		kind = ReadinessNone
	}
	if !readinessKinds[kind] {
		return errors.Errorf("unknown readiness kind %q", string(text))
	}
	*k = kind
	return nil
}

const (
	DefaultReadinessTimeout = 2 * time.Minute
	DefaultPollInterval     = 500 * time.Millisecond
)

// Readiness describes the condition under which a service is considered ready.
type Readiness struct {
	Kind ReadinessKind
	// Container port probed by http, tcp, postgres and redis checks. Defaults to the first exposed port.
	Port int
	// Path requested by http checks, e.g. /actuator/health
	Path string
	// Status code expected by http checks. Defaults to 200.
	ExpectedStatus int
	// Regular expression matched against log lines by log checks.
	Pattern string
	// Number of matching log lines required by log checks. Defaults to 1.
	Times int
	// Credentials and database for postgres checks.
	User     string
	Password string
	Database string
	Timeout  time.Duration
	// Interval between probes. Must be below one second.
	Interval time.Duration
}

func (r Readiness) withDefaults(ports PortSet) Readiness {
	if r.Kind == "" {
		r.Kind = ReadinessNone
	}
	if r.Port == 0 && len(ports) > 0 {
		r.Port = ports[0]
	}
	if r.Kind == ReadinessHttp {
		if r.ExpectedStatus == 0 {
			r.ExpectedStatus = http.StatusOK
		}
		if r.Path == "" {
			r.Path = "/"
		}
		if !strings.HasPrefix(r.Path, "/") {
			r.Path = "/" + r.Path
		}
	}
	if r.Kind == ReadinessLog && r.Times <= 0 {
		r.Times = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultReadinessTimeout
	}
	if r.Interval <= 0 {
		r.Interval = DefaultPollInterval
	}
	return r
}

// String describes the condition for logs and error messages.
func (r Readiness) String() string {
	switch r.Kind {
	case ReadinessHttp:
		return fmt.Sprintf("http GET %s on port %d returns %d", r.Path, r.Port, r.ExpectedStatus)
	case ReadinessLog:
		return fmt.Sprintf("log matches %q %d time(s)", r.Pattern, r.Times)
	case ReadinessTcp:
		return fmt.Sprintf("tcp connect to port %d", r.Port)
	case ReadinessPostgres:
		return fmt.Sprintf("postgres ping on port %d", r.Port)
	case ReadinessRedis:
		return fmt.Sprintf("redis ping on port %d", r.Port)
	default:
		return "started"
	}
}
