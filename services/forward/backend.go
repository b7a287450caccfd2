// Package forward delivers violations to the grading backend.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultBreakerTimeout = 30 * time.Second
	defaultMaxFailures    = 5
)

// StatusError is returned when the backend answers with a non 2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", err.StatusCode, err.Body)
}

// BackendForwarder posts violations to the backend behind a circuit breaker.
type BackendForwarder struct {
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  core.Logger
}

var _ session.Forwarder = (*BackendForwarder)(nil)

func NewBackendForwarder(conf core.BackendConfig, logger core.Logger) *BackendForwarder {
	if conf.Timeout <= 0 {
		conf.Timeout = defaultTimeout
	}
	if conf.BreakerTimeout <= 0 {
		conf.BreakerTimeout = defaultBreakerTimeout
	}
	if conf.MaxFailures == 0 {
		conf.MaxFailures = defaultMaxFailures
	}

	f := &BackendForwarder{
		url:    conf.ViolationsURL,
		token:  conf.Token,
		client: &http.Client{Timeout: conf.Timeout},
		logger: logger,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("forward: %s circuit %s -> %s", name, from, to))
		},
	})
	return f
}

func (f *BackendForwarder) Forward(ctx context.Context, v integrity.Violation) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "json.Marshal(violation)")
	}
	_, err = f.breaker.Execute(func() (interface{}, error) {
		return nil, f.post(ctx, body)
	})
	return errors.Wrap(err, "forwarding violation")
}

func (f *BackendForwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// State reports the circuit breaker state.
func (f *BackendForwarder) State() gobreaker.State {
	return f.breaker.State()
}
