package integrity_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/tests"
)

func newEnforcer(fs integrity.FullscreenCapability) (*testutil.Clock, *integrity.Reporter, *testutil.Toasts, *integrity.FullscreenEnforcer) {
	clock := testutil.NewClock(time.Now())
	toasts := &testutil.Toasts{}
	reporter := integrity.NewReporter("sess-1", "ua", clock, toasts, 0)
	f := integrity.NewFullscreenEnforcer(fs, reporter, clock, core.NewNopLogger(), integrity.DefaultFullscreenDelay)
	f.Mount()
	return clock, reporter, toasts, f
}

func TestFullscreenEnforcer_RequestAfterDelay(t *testing.T) {
	fs := testutil.NewFullscreen(true)
	clock, reporter, _, f := newEnforcer(fs)

	assert.True(t, f.PromptRequired())
	clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, 0, fs.Requests())

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, fs.Requests())
	assert.True(t, f.IsFullscreen())
	assert.False(t, f.PromptRequired())
	assert.Equal(t, 0, reporter.Total())
}

func TestFullscreenEnforcer_Exit(t *testing.T) {
	fs := testutil.NewFullscreen(true)
	clock, reporter, _, f := newEnforcer(fs)
	clock.Advance(2 * time.Second)

	fs.Set(false)

	require.Equal(t, 1, reporter.Total())
	assert.Equal(t, integrity.ViolationFullscreenExit, reporter.Recent()[0].Type)
	assert.Equal(t, integrity.SeverityHigh, reporter.Recent()[0].Severity)
	assert.True(t, f.PromptRequired())

	f.Reenter()
	assert.Equal(t, 2, fs.Requests())
	assert.False(t, f.PromptRequired())
	assert.Equal(t, 1, reporter.Total())
}

func TestFullscreenEnforcer_NotFullscreenYet(t *testing.T) {
	fs := testutil.NewFullscreen(true)
	fs.FailRequests(errors.New("user gesture required"))
	clock, reporter, toasts, f := newEnforcer(fs)

	clock.Advance(2 * time.Second)

	// never was fullscreen, so nothing was exited
	assert.Equal(t, 0, reporter.Total())
	assert.True(t, f.PromptRequired())
	require.Len(t, toasts.All(), 1)
	assert.Equal(t, integrity.ToastWarning, toasts.All()[0].Level)
}

func TestFullscreenEnforcer_Unsupported(t *testing.T) {
	for name, fs := range map[string]integrity.FullscreenCapability{
		"nil":      nil,
		"disabled": testutil.NewFullscreen(false),
	} {
		t.Run(name, func(t *testing.T) {
			clock, reporter, toasts, f := newEnforcer(fs)

			assert.Equal(t, 0, clock.Pending())
			assert.False(t, f.PromptRequired())
			assert.Equal(t, 0, reporter.Total())
			require.Len(t, toasts.All(), 1)
			assert.Equal(t, integrity.ToastWarning, toasts.All()[0].Level)
		})
	}
}

func TestFullscreenEnforcer_Unmount(t *testing.T) {
	fs := testutil.NewFullscreen(true)
	clock, reporter, _, f := newEnforcer(fs)
	require.Equal(t, 1, clock.Pending())
	require.Equal(t, 1, fs.Listeners())

	f.Unmount()

	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, 0, fs.Listeners())
	clock.Advance(time.Minute)
	assert.Equal(t, 0, fs.Requests())

	fs.Set(true)
	fs.Set(false)
	assert.Equal(t, 0, reporter.Total())
	assert.False(t, f.PromptRequired())
}
