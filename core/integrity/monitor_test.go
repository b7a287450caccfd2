package integrity_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/tests"
)

var allOn = integrity.SecurityConfig{
	PreventTabSwitching:      true,
	PreventCopyPaste:         true,
	PreventRightClick:        true,
	PreventKeyboardShortcuts: true,
	RequireFullscreen:        true,
}

func newMonitor(conf integrity.SecurityConfig, area *integrity.AllowedLocation) (*testutil.Browser, *testutil.Toasts, *integrity.Monitor) {
	b := testutil.NewBrowser()
	toasts := &testutil.Toasts{}
	m := integrity.NewMonitor(b.Browser(), integrity.Options{
		SessionID: "sess-1",
		Config:    conf,
		Location:  area,
		Notifier:  toasts,
	})
	return b, toasts, m
}

func TestMonitor_Teardown(t *testing.T) {
	b, _, m := newMonitor(allOn, &origin100)

	m.SetActive(true)
	b.Geolocation.Send(0, 0.001) // grace timer pending

	assert.Greater(t, b.Listeners(), 0)
	assert.Equal(t, 1, b.Geolocation.Watches())
	// fullscreen request + grace timer + device interval
	assert.Equal(t, 3, b.Clock.Pending())

	m.SetActive(false)

	assert.Equal(t, 0, b.Listeners())
	assert.Equal(t, 0, b.Geolocation.Watches())
	assert.Equal(t, 0, b.Clock.Pending())

	// nothing fires after the quiz ends
	b.Document.SetHidden(true)
	b.Document.Fire(&integrity.Event{Type: integrity.EventKeyDown, Key: "F12"})
	b.Clock.Advance(time.Hour)
	assert.Equal(t, 0, m.Reporter().Total())
}

func TestMonitor_InactiveIsNoop(t *testing.T) {
	b, _, m := newMonitor(allOn, &origin100)

	b.Document.SetHidden(true)
	e := b.Document.FireType(integrity.EventPaste)

	assert.False(t, e.DefaultPrevented())
	assert.Equal(t, 0, m.Reporter().Total())
	assert.Equal(t, 0, b.Geolocation.Watches())
	assert.False(t, m.Active())
}

func TestMonitor_Remount(t *testing.T) {
	b, _, m := newMonitor(allOn, &origin100)

	m.SetActive(true)
	m.SetActive(false)
	m.SetActive(true)
	m.SetActive(true)

	assert.Equal(t, 1, b.Geolocation.Watches())
	assert.Equal(t, 1, b.Fullscreen.Listeners())
	assert.Equal(t, 2, b.Clock.Pending())

	b.Window.FireType(integrity.EventBlur)
	assert.Equal(t, 1, m.Reporter().Total())
}

func TestMonitor_FanIn(t *testing.T) {
	b, toasts, m := newMonitor(allOn, &origin100)
	sub, cancel := m.Reporter().Subscribe(16)
	defer cancel()

	m.SetActive(true)
	b.Clock.Advance(2 * time.Second) // enters fullscreen
	b.Geolocation.Send(0, 0)

	b.Document.SetHidden(true)
	b.Window.FireType(integrity.EventBlur)
	b.Document.FireType(integrity.EventCopy)
	b.Document.FireType(integrity.EventContextMenu)
	b.Document.Fire(&integrity.Event{Type: integrity.EventKeyDown, Key: "F12"})
	b.Fullscreen.Set(false)
	b.Geolocation.Fail(integrity.GeoTimeout)

	want := []integrity.ViolationType{
		integrity.ViolationTabChange,
		integrity.ViolationWindowBlur,
		integrity.ViolationCopyPaste,
		integrity.ViolationRightClick,
		integrity.ViolationKeyboardShortcut,
		integrity.ViolationFullscreenExit,
		integrity.ViolationLocation,
	}
	for _, vt := range want {
		v := <-sub
		assert.Equal(t, vt, v.Type)
		assert.Equal(t, "sess-1", v.SessionID)
	}
	assert.Len(t, toasts.All(), len(want))

	st := m.Status()
	assert.True(t, st.Active)
	assert.True(t, st.FullscreenRequired)
	assert.True(t, st.FullscreenPrompt)
	assert.Equal(t, len(want), st.Total)
	require.NotNil(t, st.Location)
	assert.Equal(t, integrity.StateInside, st.Location.State)
}

func TestMonitor_DisabledFeatures(t *testing.T) {
	b, toasts, m := newMonitor(integrity.SecurityConfig{}, nil)
	m.SetActive(true)

	b.Document.SetHidden(true)
	b.Window.FireType(integrity.EventBlur)
	e := b.Document.FireType(integrity.EventPaste)

	assert.False(t, e.DefaultPrevented())
	assert.Equal(t, 0, b.Listeners())
	assert.Equal(t, 0, b.Geolocation.Watches())
	assert.Equal(t, 0, m.Reporter().Total())
	assert.Empty(t, toasts.All())
	assert.Nil(t, m.Location())
	assert.Nil(t, m.Fullscreen())
}

func TestMonitor_UnsupportedCapabilities(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	toasts := &testutil.Toasts{}
	m := integrity.NewMonitor(integrity.Browser{Clock: clock}, integrity.Options{
		SessionID: "sess-1",
		Config:    allOn,
		Location:  &origin100,
		Notifier:  toasts,
	})

	assert.NotPanics(t, func() { m.SetActive(true) })
	assert.Equal(t, 0, m.Reporter().Total())
	assert.Len(t, toasts.All(), 2) // fullscreen + geolocation
	assert.Equal(t, 0, clock.Pending())
	m.Close()
}

func TestMonitor_Close(t *testing.T) {
	b, _, m := newMonitor(allOn, nil)
	sub, _ := m.Reporter().Subscribe(1)
	m.SetActive(true)

	m.Close()

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.Listeners())
	assert.Equal(t, 0, b.Clock.Pending())

	m.SetActive(true)
	assert.False(t, m.Active())
}

func TestDeviceProbe(t *testing.T) {
	b, _, m := newMonitor(integrity.SecurityConfig{}, nil)
	m.SetActive(true)
	require.Equal(t, 1, b.Clock.Pending())

	b.Clock.Advance(30 * time.Second)
	assert.Equal(t, 0, m.Reporter().Total())
	require.NotNil(t, m.Status().Device)

	b.Devices.Set(integrity.DeviceInfo{VideoInputs: 1, DisplayCaptureActive: true}, nil)
	b.Clock.Advance(30 * time.Second)
	b.Clock.Advance(30 * time.Second) // still capturing, no new report
	require.Equal(t, 1, m.Reporter().Total())
	v := m.Reporter().Recent()[0]
	assert.Equal(t, integrity.ViolationScreenRecording, v.Type)
	assert.Equal(t, integrity.SeverityMedium, v.Severity)

	b.Devices.Set(integrity.DeviceInfo{VideoInputs: 1}, nil)
	b.Clock.Advance(30 * time.Second)
	b.Devices.Set(integrity.DeviceInfo{VideoInputs: 2}, nil)
	b.Clock.Advance(30 * time.Second)
	require.Equal(t, 2, m.Reporter().Total())
	assert.Contains(t, m.Reporter().Recent()[1].Description, "2 video input")

	// snapshot errors are ignored
	b.Devices.Set(integrity.DeviceInfo{}, errors.New("not allowed"))
	b.Clock.Advance(30 * time.Second)
	assert.Equal(t, 2, m.Reporter().Total())
}
