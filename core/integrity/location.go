package integrity

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
)

const (
	DefaultGracePeriod     = 60 * time.Second
	DefaultLocationMaxAge  = 30 * time.Second
	DefaultLocationTimeout = 15 * time.Second

	// MaxLocationHistory caps the rolling sample history.
	MaxLocationHistory = 50
)

// ComplianceState is the geofence state of a tracked device.
type ComplianceState int

const (
	StateUnknown ComplianceState = iota
	StateInside
	StateGracePeriod
	StateOutside
)

var complianceStateNames = [...]string{"unknown", "inside", "grace_period", "outside"}

func (s ComplianceState) String() string {
	if s < 0 || int(s) >= len(complianceStateNames) {
		return "invalid"
	}
	return complianceStateNames[s]
}

func (s ComplianceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsOutsideArea is true once the device has left the geofence, grace period included.
func (s ComplianceState) IsOutsideArea() bool {
	return s == StateGracePeriod || s == StateOutside
}

// Signal is an input of the compliance state machine.
type Signal int

const (
	SignalInside Signal = iota
	SignalOutside
	SignalGraceExpired
)

// Action is the side effect a transition asks for.
type Action int

const (
	ActionNone Action = iota
	ActionStartGrace
	ActionCancelGrace
	ActionReport
	ActionClearWarning
)

// NextComplianceState is the compliance transition function.
func NextComplianceState(s ComplianceState, sig Signal) (ComplianceState, Action) {
	switch sig {
	case SignalInside:
		switch s {
		case StateGracePeriod:
			return StateInside, ActionCancelGrace
		case StateOutside:
			return StateInside, ActionClearWarning
		default:
			return StateInside, ActionNone
		}
	case SignalOutside:
		switch s {
		case StateUnknown, StateInside:
			return StateGracePeriod, ActionStartGrace
		default:
			return s, ActionNone
		}
	case SignalGraceExpired:
		if s == StateGracePeriod {
			return StateOutside, ActionReport
		}
	}
	return s, ActionNone
}

// LocationStatus is a snapshot of the tracker, used to render the countdown.
type LocationStatus struct {
	Supported      bool            `json:"supported"`
	State          ComplianceState `json:"state"`
	IsOutsideArea  bool            `json:"is_outside_area"`
	Distance       *float64        `json:"distance_meters,omitempty"`
	GraceRemaining float64         `json:"grace_remaining_seconds"`
	LastSample     *LocationSample `json:"last_sample,omitempty"`
	Samples        int             `json:"samples"`
}

// LocationTracker watches the device position against one geofence.
type LocationTracker struct {
	geo      GeolocationCapability
	area     AllowedLocation
	reporter *Reporter
	clock    Clock
	logger   core.Logger
	grace    time.Duration
	opts     PositionOptions

	mu        sync.Mutex
	mounted   bool
	mountGen  uint64
	watchID   WatchID
	watching  bool
	state     ComplianceState
	distance  *float64
	history   []LocationSample
	timer     Timer
	deadline  time.Time
	graceGen  uint64
}

func NewLocationTracker(
	geo GeolocationCapability,
	area AllowedLocation,
	reporter *Reporter,
	clock Clock,
	logger core.Logger,
	grace time.Duration,
	opts PositionOptions,
) *LocationTracker {
	return &LocationTracker{
		geo:      geo,
		area:     area,
		reporter: reporter,
		clock:    clock,
		logger:   logger,
		grace:    grace,
		opts:     opts,
		history:  make([]LocationSample, 0, MaxLocationHistory),
	}
}

// Mount takes an immediate fix and starts the position watch.
func (t *LocationTracker) Mount() {
	if t.geo == nil {
		t.logger.Warn("geolocation API not supported")
		t.reporter.Notify(Toast{Level: ToastWarning, Message: "Location services are not supported by this browser."})
		return
	}

	t.mu.Lock()
	if t.mounted {
		t.mu.Unlock()
		return
	}
	t.mounted = true
	t.mountGen++
	gen := t.mountGen
	t.mu.Unlock()

	onSample := func(s LocationSample) { t.onSample(gen, s) }
	onError := func(err GeoError) { t.onError(gen, err) }

	first := t.opts
	first.MaximumAge = 0
	t.geo.GetCurrentPosition(onSample, onError, first)
	id := t.geo.WatchPosition(onSample, onError, t.opts)

	t.mu.Lock()
	if t.mountGen != gen {
		// unmounted meanwhile
		t.mu.Unlock()
		t.geo.ClearWatch(id)
		return
	}
	t.watchID = id
	t.watching = true
	t.mu.Unlock()
}

// Unmount clears the watch and any pending grace timer. State starts over on the next Mount.
func (t *LocationTracker) Unmount() {
	t.mu.Lock()
	if !t.mounted {
		t.mu.Unlock()
		return
	}
	t.mounted = false
	t.mountGen++
	t.stopGraceLocked()
	t.state = StateUnknown
	t.distance = nil
	id, watching := t.watchID, t.watching
	t.watching = false
	t.mu.Unlock()

	if watching {
		t.geo.ClearWatch(id)
	}
}

func (t *LocationTracker) onSample(gen uint64, s LocationSample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = t.clock.Now().UTC()
	}
	d := t.area.DistanceTo(s)
	sig := SignalOutside
	if t.area.Contains(d) {
		sig = SignalInside
	}

	t.mu.Lock()
	if !t.mounted || gen != t.mountGen {
		t.mu.Unlock()
		return
	}
	if len(t.history) == MaxLocationHistory {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, s)
	t.distance = &d

	next, action := NextComplianceState(t.state, sig)
	t.state = next
	switch action {
	case ActionStartGrace:
		t.graceGen++
		graceGen := t.graceGen
		t.deadline = t.clock.Now().Add(t.grace)
		t.timer = t.clock.AfterFunc(t.grace, func() { t.expire(graceGen) })
	case ActionCancelGrace:
		t.stopGraceLocked()
	}
	t.mu.Unlock()

	switch action {
	case ActionStartGrace:
		t.logger.Info("device left the allowed area", map[string]interface{}{"distance_meters": math.Round(d)})
		t.reporter.Notify(Toast{
			Level: ToastWarning,
			Message: fmt.Sprintf(
				"You are outside the allowed quiz area (%.0f m away). Return within %d seconds to avoid a violation.",
				d, int(t.grace.Seconds()),
			),
		})
	case ActionCancelGrace, ActionClearWarning:
		t.logger.Info("device back in the allowed area")
		t.reporter.Notify(Toast{Level: ToastSuccess, Message: "You are back inside the allowed quiz area."})
	}
}

func (t *LocationTracker) expire(graceGen uint64) {
	t.mu.Lock()
	if graceGen != t.graceGen || !t.mounted {
		t.mu.Unlock()
		return
	}
	next, action := NextComplianceState(t.state, SignalGraceExpired)
	t.state = next
	t.timer = nil
	var d float64
	if t.distance != nil {
		d = *t.distance
	}
	t.mu.Unlock()

	if action != ActionReport {
		return
	}
	canContinue := d < 1.5*t.area.Radius
	severity := SeverityHigh
	if d > 2*t.area.Radius {
		severity = SeverityCritical
	}
	t.reporter.Report(
		ViolationLocation,
		severity,
		fmt.Sprintf(
			"Device stayed outside the allowed area for %d seconds (%.0f m from center, allowed radius %.0f m)",
			int(t.grace.Seconds()), d, t.area.Radius,
		),
		WithCanContinue(canContinue),
		WithDistance(d),
	)
}

func (t *LocationTracker) onError(gen uint64, err GeoError) {
	t.mu.Lock()
	if !t.mounted || gen != t.mountGen {
		t.mu.Unlock()
		return
	}
	id, stopWatch := t.watchID, t.watching && err.Code == GeoPermissionDenied
	if stopWatch {
		t.watching = false
	}
	t.mu.Unlock()

	if stopWatch {
		// no fix will ever arrive
		t.geo.ClearWatch(id)
	}
	t.logger.Warn("location check failed", err)
	t.reporter.Report(
		ViolationLocation,
		SeverityCritical,
		"Location check failed: "+err.Code.String(),
		WithCanContinue(false),
	)
}

// stopGraceLocked cancels the pending grace timer. Callers hold t.mu.
func (t *LocationTracker) stopGraceLocked() {
	t.graceGen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.deadline = time.Time{}
}

func (t *LocationTracker) State() ComplianceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *LocationTracker) IsOutsideArea() bool {
	return t.State().IsOutsideArea()
}

// GraceRemaining is the countdown shown while in the grace period.
func (t *LocationTracker) GraceRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.graceRemainingLocked()
}

func (t *LocationTracker) graceRemainingLocked() time.Duration {
	if t.state != StateGracePeriod || t.deadline.IsZero() {
		return 0
	}
	if rem := t.deadline.Sub(t.clock.Now()); rem > 0 {
		return rem
	}
	return 0
}

// History returns the recent samples, oldest first.
func (t *LocationTracker) History() []LocationSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LocationSample, len(t.history))
	copy(out, t.history)
	return out
}

func (t *LocationTracker) Status() LocationStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := LocationStatus{
		Supported:      t.geo != nil,
		State:          t.state,
		IsOutsideArea:  t.state.IsOutsideArea(),
		GraceRemaining: t.graceRemainingLocked().Seconds(),
		Samples:        len(t.history),
	}
	if t.distance != nil {
		d := *t.distance
		st.Distance = &d
	}
	if n := len(t.history); n > 0 {
		last := t.history[n-1]
		st.LastSample = &last
	}
	return st
}
