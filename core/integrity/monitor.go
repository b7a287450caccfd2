package integrity

import (
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
)

// Options configures a Monitor. Zero durations fall back to the package defaults.
type Options struct {
	SessionID string
	Config    SecurityConfig
	// Location enables the geofence when set.
	Location *AllowedLocation

	GracePeriod         time.Duration
	LocationMaxAge      time.Duration
	LocationTimeout     time.Duration
	FlickerWindow       time.Duration
	DeviceCheckInterval time.Duration
	FullscreenDelay     time.Duration
	RecentViolations    int

	Logger   core.Logger
	Notifier Notifier
}

func (o *Options) setDefaults() {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.LocationMaxAge <= 0 {
		o.LocationMaxAge = DefaultLocationMaxAge
	}
	if o.LocationTimeout <= 0 {
		o.LocationTimeout = DefaultLocationTimeout
	}
	if o.FlickerWindow == 0 {
		o.FlickerWindow = DefaultFlickerWindow
	} else if o.FlickerWindow < 0 {
		o.FlickerWindow = 0 // disabled
	}
	if o.DeviceCheckInterval <= 0 {
		o.DeviceCheckInterval = DefaultDeviceCheckInterval
	}
	if o.FullscreenDelay <= 0 {
		o.FullscreenDelay = DefaultFullscreenDelay
	}
	if o.Logger == nil {
		o.Logger = core.NewNopLogger()
	}
}

type detector interface {
	Mount()
	Unmount()
}

// Monitor mounts every detector of one quiz attempt on a Browser.
type Monitor struct {
	conf     SecurityConfig
	reporter *Reporter

	visibility *VisibilityWatcher
	guard      *InputGuard
	fullscreen *FullscreenEnforcer
	location   *LocationTracker
	devices    *DeviceProbe

	mu        sync.Mutex
	detectors []detector
	active    bool
	closed    bool
}

// Status is a snapshot of a Monitor.
type Status struct {
	Active             bool                  `json:"active"`
	Config             SecurityConfig        `json:"security_config"`
	FullscreenRequired bool                  `json:"fullscreen_required"`
	FullscreenPrompt   bool                  `json:"fullscreen_prompt"`
	Location           *LocationStatus       `json:"location,omitempty"`
	Device             *DeviceInfo           `json:"device,omitempty"`
	Counts             map[ViolationType]int `json:"violation_counts"`
	Total              int                   `json:"violation_total"`
	Recent             []Violation           `json:"recent_violations"`
}

func NewMonitor(b Browser, opts Options) *Monitor {
	opts.setDefaults()
	clock := b.Clock
	if clock == nil {
		clock = SystemClock()
	}
	log := opts.Logger

	m := &Monitor{
		conf:     opts.Config,
		reporter: NewReporter(opts.SessionID, b.UserAgent, clock, opts.Notifier, opts.RecentViolations),
	}

	if opts.Config.PreventTabSwitching {
		m.visibility = NewVisibilityWatcher(b.Document, b.Window, m.reporter, clock, log, opts.FlickerWindow)
		m.detectors = append(m.detectors, m.visibility)
	}
	if opts.Config.PreventCopyPaste || opts.Config.PreventRightClick || opts.Config.PreventKeyboardShortcuts {
		var doc EventTarget
		if b.Document != nil {
			doc = b.Document
		}
		m.guard = NewInputGuard(doc, opts.Config, m.reporter, log)
		m.detectors = append(m.detectors, m.guard)
	}
	if opts.Config.RequireFullscreen {
		m.fullscreen = NewFullscreenEnforcer(b.Fullscreen, m.reporter, clock, log, opts.FullscreenDelay)
		m.detectors = append(m.detectors, m.fullscreen)
	}
	if opts.Location != nil {
		posOpts := PositionOptions{
			EnableHighAccuracy: true,
			Timeout:            opts.LocationTimeout,
			MaximumAge:         opts.LocationMaxAge,
		}
		m.location = NewLocationTracker(b.Geolocation, *opts.Location, m.reporter, clock, log, opts.GracePeriod, posOpts)
		m.detectors = append(m.detectors, m.location)
	}
	if b.Devices != nil {
		m.devices = NewDeviceProbe(b.Devices, m.reporter, clock, log, opts.DeviceCheckInterval)
		m.detectors = append(m.detectors, m.devices)
	}
	return m
}

// SetActive mounts every detector when true and tears them all down when false.
func (m *Monitor) SetActive(active bool) {
	m.mu.Lock()
	if m.closed || m.active == active {
		m.mu.Unlock()
		return
	}
	m.active = active
	detectors := m.detectors
	m.mu.Unlock()

	for _, d := range detectors {
		if active {
			d.Mount()
		} else {
			d.Unmount()
		}
	}
}

func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close tears the monitor down for good and closes every violation subscription.
func (m *Monitor) Close() {
	m.SetActive(false)

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.reporter.Close()
}

func (m *Monitor) Reporter() *Reporter { return m.reporter }

// Fullscreen returns the enforcer, or nil when fullscreen is not required.
func (m *Monitor) Fullscreen() *FullscreenEnforcer { return m.fullscreen }

// Location returns the tracker, or nil when no geofence is set.
func (m *Monitor) Location() *LocationTracker { return m.location }

func (m *Monitor) Status() Status {
	st := Status{
		Active:             m.Active(),
		Config:             m.conf,
		FullscreenRequired: m.fullscreen != nil,
		Counts:             m.reporter.Counts(),
		Total:              m.reporter.Total(),
		Recent:             m.reporter.Recent(),
	}
	if m.fullscreen != nil {
		st.FullscreenPrompt = m.fullscreen.PromptRequired()
	}
	if m.location != nil {
		loc := m.location.Status()
		st.Location = &loc
	}
	if m.devices != nil {
		st.Device = m.devices.Last()
	}
	return st
}
