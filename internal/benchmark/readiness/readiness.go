// Package readiness waits for started services to satisfy their readiness condition.
package readiness

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runtime"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

// Target is the started service being probed.
type Target struct {
	Name     string
	Instance runtime.Instance
}

type probeFunc func(ctx context.Context) error

// AwaitReady blocks until target satisfies condition or condition.Timeout elapses.
// Running out of time yields *harnesserrors.ErrReadinessTimeout; cancellation of ctx is returned as is.
// Probes never modify the service.
func AwaitReady(ctx *runcontext.Context, target Target, condition service.Readiness) error {
	if condition.Kind == service.ReadinessNone || condition.Kind == "" {
		return nil
	}
	timeout := condition.Timeout
	if timeout <= 0 {
		timeout = service.DefaultReadinessTimeout
	}
	interval := condition.Interval
	if interval <= 0 {
		interval = service.DefaultPollInterval
	}

	probeCtx, cancel := runcontext.WithTimeout(ctx, timeout)
	defer cancel()
	probeCtx = runcontext.WithLogFields(probeCtx, map[string]interface{}{
		"service":   target.Name,
		"readiness": string(condition.Kind),
	})
	probeCtx.Log.Infof("Waiting up to %s for %s", timeout, condition)

	start := time.Now()
	var err error
	if condition.Kind == service.ReadinessLog {
		err = awaitLogPattern(probeCtx, target.Instance, condition)
	} else {
		var probe probeFunc
		probe, err = newProbe(target.Instance, condition)
		if err == nil {
			err = poll(probeCtx, probe, interval)
		}
	}
	if err == nil {
		probeCtx.Log.Infof("Ready after %s", time.Since(start).Round(time.Millisecond))
		return nil
	}
	if ctx.Err() != nil {
		return errors.WithStack(ctx.Err())
	}
	return errors.WithStack(&harnesserrors.ErrReadinessTimeout{
		Service:   target.Name,
		Condition: condition.String(),
		Timeout:   timeout,
		LastError: err,
	})
}

// poll runs probe at a fixed interval until it succeeds or ctx is done, returning the last probe error.
func poll(ctx *runcontext.Context, probe probeFunc, interval time.Duration) error {
	var lastErr error
	attempts := uint(1)
	if deadline, ok := ctx.Deadline(); ok {
		attempts = uint(time.Until(deadline)/interval) + 2
	}
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(ctx, interval))
			defer cancel()
			lastErr = probe(attemptCtx)
			return lastErr
		},
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.Debugf("Probe %d failed: %v", n+1, err)
		}),
	)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

// attemptTimeout bounds a single probe so that a hanging endpoint cannot stall polling.
func attemptTimeout(ctx context.Context, interval time.Duration) time.Duration {
	timeout := 4 * interval
	if timeout < time.Second {
		timeout = time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

func newProbe(instance runtime.Instance, condition service.Readiness) (probeFunc, error) {
	addr, err := instance.HostAddress(condition.Port)
	if err != nil {
		return nil, err
	}
	switch condition.Kind {
	case service.ReadinessHttp:
		return httpProbe("http://"+addr+condition.Path, condition.ExpectedStatus), nil
	case service.ReadinessTcp:
		return tcpProbe(addr), nil
	case service.ReadinessPostgres:
		return postgresProbe(postgresUrl(addr, condition)), nil
	case service.ReadinessRedis:
		return redisProbe(addr), nil
	}
	return nil, errors.Errorf("no probe for readiness kind %q", condition.Kind)
}

func httpProbe(target string, expectedStatus int) probeFunc {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return errors.WithStack(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return errors.WithStack(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != expectedStatus {
			return errors.Errorf("GET %s returned %d, expected %d", target, resp.StatusCode, expectedStatus)
		}
		return nil
	}
}

func tcpProbe(addr string) probeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return errors.WithStack(err)
		}
		return conn.Close()
	}
}

func postgresUrl(addr string, condition service.Readiness) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     addr,
		Path:     "/" + condition.Database,
		RawQuery: "sslmode=disable",
	}
	if condition.User != "" {
		u.User = url.UserPassword(condition.User, condition.Password)
	}
	return u.String()
}

func postgresProbe(connString string) probeFunc {
	return func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return errors.WithStack(err)
		}
		defer conn.Close(context.Background())
		return errors.WithStack(conn.Ping(ctx))
	}
}

func redisProbe(addr string) probeFunc {
	return func(ctx context.Context) error {
		timeout := time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		db := redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			MaxRetries:   0,
		})
		defer db.Close()
		_, err := db.Ping().Result()
		return errors.WithStack(err)
	}
}

// awaitLogPattern follows the log stream of instance until condition.Pattern has matched condition.Times lines.
func awaitLogPattern(ctx *runcontext.Context, instance runtime.Instance, condition service.Readiness) error {
	pattern, err := regexp.Compile(condition.Pattern)
	if err != nil {
		return errors.WithStack(err)
	}
	reader, err := instance.Logs(ctx, true)
	if err != nil {
		return err
	}
	defer reader.Close()

	result := make(chan error, 1)
	go func() {
		matches := 0
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if pattern.MatchString(scanner.Text()) {
				matches++
				ctx.Log.Debugf("Readiness pattern matched %d/%d", matches, condition.Times)
				if matches >= condition.Times {
					result <- nil
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			result <- errors.WithStack(err)
			return
		}
		result <- errors.Errorf("log stream ended after %d of %d matches", matches, condition.Times)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errors.Errorf("pattern %q not seen %d time(s) before %v", condition.Pattern, condition.Times, ctx.Err())
	}
}
