package integrity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/tests"
)

func TestNextComplianceState(t *testing.T) {
	tests := []struct {
		state      integrity.ComplianceState
		sig        integrity.Signal
		wantState  integrity.ComplianceState
		wantAction integrity.Action
	}{
		{integrity.StateUnknown, integrity.SignalInside, integrity.StateInside, integrity.ActionNone},
		{integrity.StateUnknown, integrity.SignalOutside, integrity.StateGracePeriod, integrity.ActionStartGrace},
		{integrity.StateUnknown, integrity.SignalGraceExpired, integrity.StateUnknown, integrity.ActionNone},
		{integrity.StateInside, integrity.SignalInside, integrity.StateInside, integrity.ActionNone},
		{integrity.StateInside, integrity.SignalOutside, integrity.StateGracePeriod, integrity.ActionStartGrace},
		{integrity.StateInside, integrity.SignalGraceExpired, integrity.StateInside, integrity.ActionNone},
		{integrity.StateGracePeriod, integrity.SignalInside, integrity.StateInside, integrity.ActionCancelGrace},
		{integrity.StateGracePeriod, integrity.SignalOutside, integrity.StateGracePeriod, integrity.ActionNone},
		{integrity.StateGracePeriod, integrity.SignalGraceExpired, integrity.StateOutside, integrity.ActionReport},
		{integrity.StateOutside, integrity.SignalInside, integrity.StateInside, integrity.ActionClearWarning},
		{integrity.StateOutside, integrity.SignalOutside, integrity.StateOutside, integrity.ActionNone},
		{integrity.StateOutside, integrity.SignalGraceExpired, integrity.StateOutside, integrity.ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			state, action := integrity.NextComplianceState(tt.state, tt.sig)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestComplianceState_IsOutsideArea(t *testing.T) {
	assert.False(t, integrity.StateUnknown.IsOutsideArea())
	assert.False(t, integrity.StateInside.IsOutsideArea())
	assert.True(t, integrity.StateGracePeriod.IsOutsideArea())
	assert.True(t, integrity.StateOutside.IsOutsideArea())
}

type trackerFixture struct {
	b        *testutil.Browser
	reporter *integrity.Reporter
	toasts   *testutil.Toasts
	tracker  *integrity.LocationTracker
}

func newTracker(area integrity.AllowedLocation) trackerFixture {
	b := testutil.NewBrowser()
	toasts := &testutil.Toasts{}
	reporter := integrity.NewReporter("sess-1", "ua", b.Clock, toasts, 0)
	tracker := integrity.NewLocationTracker(
		b.Geolocation, area, reporter, b.Clock, core.NewNopLogger(),
		integrity.DefaultGracePeriod,
		integrity.PositionOptions{EnableHighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: 30 * time.Second},
	)
	tracker.Mount()
	return trackerFixture{b: b, reporter: reporter, toasts: toasts, tracker: tracker}
}

var origin100 = integrity.AllowedLocation{Latitude: 0, Longitude: 0, Radius: 100}

func TestLocationTracker_WatchOptions(t *testing.T) {
	f := newTracker(origin100)
	require.Len(t, f.b.Geolocation.Opts, 2)
	assert.Equal(t, time.Duration(0), f.b.Geolocation.Opts[0].MaximumAge, "first fix must be fresh")
	assert.Equal(t, 30*time.Second, f.b.Geolocation.Opts[1].MaximumAge)
	assert.Equal(t, 1, f.b.Geolocation.Watches())
}

func TestLocationTracker_JitterDoesNotReport(t *testing.T) {
	f := newTracker(origin100)

	f.b.Geolocation.Send(0, 0)
	assert.Equal(t, integrity.StateInside, f.tracker.State())

	f.b.Geolocation.Send(0, 0.001) // one noisy sample, ~111 m away
	assert.True(t, f.tracker.IsOutsideArea())
	assert.Equal(t, integrity.StateGracePeriod, f.tracker.State())
	assert.Equal(t, 60*time.Second, f.tracker.GraceRemaining())

	f.b.Clock.Advance(20 * time.Second)
	assert.Equal(t, 40*time.Second, f.tracker.GraceRemaining())

	f.b.Geolocation.Send(0, 0.0001)
	assert.Equal(t, integrity.StateInside, f.tracker.State())
	assert.Equal(t, 0, f.b.Clock.Pending(), "grace timer must be cancelled")

	f.b.Clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, f.reporter.Total())

	toasts := f.toasts.All()
	require.Len(t, toasts, 2)
	assert.Equal(t, integrity.ToastWarning, toasts[0].Level)
	assert.Equal(t, integrity.ToastSuccess, toasts[1].Level)
}

func TestLocationTracker_ScenarioHigh(t *testing.T) {
	f := newTracker(origin100)

	f.b.Geolocation.Send(0, 0.001)
	assert.True(t, f.tracker.IsOutsideArea())

	f.b.Clock.Advance(59 * time.Second)
	assert.Equal(t, 0, f.reporter.Total())

	f.b.Clock.Advance(time.Second)
	require.Equal(t, 1, f.reporter.Total())
	v := f.reporter.Recent()[0]
	assert.Equal(t, integrity.ViolationLocation, v.Type)
	assert.Equal(t, integrity.SeverityHigh, v.Severity)
	require.NotNil(t, v.CanContinue)
	assert.True(t, *v.CanContinue, "111 m < 1.5 x 100 m")
	require.NotNil(t, v.Distance)
	assert.InDelta(t, 111.19, *v.Distance, 0.01)
	assert.Equal(t, integrity.StateOutside, f.tracker.State())
	assert.True(t, f.tracker.IsOutsideArea())
}

func TestLocationTracker_SustainedOutsideReportsOnce(t *testing.T) {
	tests := []struct {
		name            string
		lon             float64 // distance from origin ~ lon * 111195 m
		wantSeverity    integrity.Severity
		wantCanContinue bool
	}{
		{name: "1.5x radius", lon: 0.00135, wantSeverity: integrity.SeverityHigh, wantCanContinue: false},
		{name: "1.8x radius", lon: 0.00162, wantSeverity: integrity.SeverityHigh, wantCanContinue: false},
		{name: "3x radius", lon: 0.0027, wantSeverity: integrity.SeverityCritical, wantCanContinue: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTracker(origin100)

			f.b.Geolocation.Send(0, tt.lon)
			for i := 0; i < 10; i++ {
				f.b.Clock.Advance(30 * time.Second)
				f.b.Geolocation.Send(0, tt.lon)
			}

			require.Equal(t, 1, f.reporter.Total())
			v := f.reporter.Recent()[0]
			assert.Equal(t, tt.wantSeverity, v.Severity)
			require.NotNil(t, v.CanContinue)
			assert.Equal(t, tt.wantCanContinue, *v.CanContinue)
		})
	}
}

func TestLocationTracker_UsesLatestDistance(t *testing.T) {
	f := newTracker(origin100)

	f.b.Geolocation.Send(0, 0.001)  // ~111 m
	f.b.Clock.Advance(30 * time.Second)
	f.b.Geolocation.Send(0, 0.0027) // ~300 m
	f.b.Clock.Advance(30 * time.Second)

	require.Equal(t, 1, f.reporter.Total())
	assert.Equal(t, integrity.SeverityCritical, f.reporter.Recent()[0].Severity)
}

func TestLocationTracker_ReentryAfterViolation(t *testing.T) {
	f := newTracker(origin100)

	f.b.Geolocation.Send(0, 0.001)
	f.b.Clock.Advance(time.Minute)
	require.Equal(t, 1, f.reporter.Total())

	f.b.Geolocation.Send(0, 0)
	assert.Equal(t, integrity.StateInside, f.tracker.State())
	assert.False(t, f.tracker.IsOutsideArea())

	// leaving again starts a new grace period
	f.b.Geolocation.Send(0, 0.001)
	f.b.Clock.Advance(time.Minute)
	assert.Equal(t, 2, f.reporter.Total())
}

func TestLocationTracker_GeoErrors(t *testing.T) {
	codes := []integrity.GeoErrorCode{
		integrity.GeoPermissionDenied,
		integrity.GeoPositionUnavailable,
		integrity.GeoTimeout,
	}
	for _, code := range codes {
		t.Run(code.String(), func(t *testing.T) {
			f := newTracker(origin100)

			f.b.Geolocation.Fail(code)

			// one-shot request + watch both fail
			require.Equal(t, 2, f.reporter.Total())
			v := f.reporter.Recent()[0]
			assert.Equal(t, integrity.ViolationLocation, v.Type)
			assert.Equal(t, integrity.SeverityCritical, v.Severity)
			require.NotNil(t, v.CanContinue)
			assert.False(t, *v.CanContinue)
			assert.Contains(t, v.Description, code.String())

			if code == integrity.GeoPermissionDenied {
				assert.Equal(t, 0, f.b.Geolocation.Watches())
			} else {
				assert.Equal(t, 1, f.b.Geolocation.Watches())
			}
		})
	}
}

func TestLocationTracker_History(t *testing.T) {
	f := newTracker(origin100)
	// the first fix is delivered twice: one-shot request + watch
	for i := 0; i < integrity.MaxLocationHistory+5; i++ {
		f.b.Geolocation.Send(0, float64(i)*1e-6)
	}
	hist := f.tracker.History()
	require.Len(t, hist, integrity.MaxLocationHistory)
	assert.InDelta(t, 5e-6, hist[0].Longitude, 1e-12)
	assert.False(t, hist[0].Timestamp.IsZero())

	st := f.tracker.Status()
	assert.Equal(t, integrity.MaxLocationHistory, st.Samples)
	assert.True(t, st.Supported)
	require.NotNil(t, st.LastSample)
	assert.InDelta(t, 54e-6, st.LastSample.Longitude, 1e-12)
}

func TestLocationTracker_Unmount(t *testing.T) {
	f := newTracker(origin100)

	f.b.Geolocation.Send(0, 0.001)
	require.Equal(t, 1, f.b.Clock.Pending())

	f.tracker.Unmount()
	assert.Equal(t, 0, f.b.Geolocation.Watches())
	assert.Equal(t, 0, f.b.Clock.Pending())
	assert.Equal(t, integrity.StateUnknown, f.tracker.State())

	// stale callbacks are ignored
	f.b.Geolocation.Send(0, 0.001)
	f.b.Clock.Advance(time.Hour)
	assert.Equal(t, 0, f.reporter.Total())
}

func TestLocationTracker_Unsupported(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	toasts := &testutil.Toasts{}
	reporter := integrity.NewReporter("s", "ua", clock, toasts, 0)
	tracker := integrity.NewLocationTracker(nil, origin100, reporter, clock, core.NewNopLogger(), time.Minute, integrity.PositionOptions{})

	tracker.Mount()
	tracker.Unmount()

	assert.Equal(t, 0, reporter.Total())
	require.Len(t, toasts.All(), 1)
	assert.Equal(t, integrity.ToastWarning, toasts.All()[0].Level)
	assert.False(t, tracker.Status().Supported)
}
