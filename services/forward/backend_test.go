package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
)

var violation = integrity.Violation{
	Type:        integrity.ViolationFullscreenExit,
	Description: "Student exited fullscreen mode",
	Severity:    integrity.SeverityHigh,
	Timestamp:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	SessionID:   "s1",
}

func TestBackendForwarder_Forward(t *testing.T) {
	var got integrity.Violation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := NewBackendForwarder(core.BackendConfig{ViolationsURL: srv.URL, Token: "secret"}, core.NewNopLogger())
	require.NoError(t, f.Forward(context.Background(), violation))
	assert.Equal(t, violation, got)
}

func TestBackendForwarder_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quiz is closed", http.StatusConflict)
	}))
	defer srv.Close()

	f := NewBackendForwarder(core.BackendConfig{ViolationsURL: srv.URL}, core.NewNopLogger())
	err := f.Forward(context.Background(), violation)

	var serr *StatusError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusConflict, serr.StatusCode)
	assert.Equal(t, "quiz is closed", serr.Body)
}

func TestBackendForwarder_Breaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewBackendForwarder(core.BackendConfig{ViolationsURL: srv.URL, MaxFailures: 2, BreakerTimeout: time.Hour}, core.NewNopLogger())
	for i := 0; i < 2; i++ {
		assert.Error(t, f.Forward(context.Background(), violation))
	}
	assert.Equal(t, gobreaker.StateOpen, f.State())

	err := f.Forward(context.Background(), violation)
	assert.Equal(t, gobreaker.ErrOpenState, errors.Cause(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
