package integrity

import (
	"fmt"
	"sync"
	"time"
)

// DOM event types the detectors listen to.
const (
	EventVisibilityChange = "visibilitychange"
	EventBlur             = "blur"
	EventFocus            = "focus"
	EventCopy             = "copy"
	EventPaste            = "paste"
	EventCut              = "cut"
	EventContextMenu      = "contextmenu"
	EventKeyDown          = "keydown"
)

// Event is a browser event delivered to a Listener.
type Event struct {
	Type     string
	Key      string
	CtrlKey  bool
	ShiftKey bool
	AltKey   bool
	MetaKey  bool

	defaultPrevented   bool
	propagationStopped bool
}

func (e *Event) PreventDefault()          { e.defaultPrevented = true }
func (e *Event) StopPropagation()         { e.propagationStopped = true }
func (e *Event) DefaultPrevented() bool   { return e.defaultPrevented }
func (e *Event) PropagationStopped() bool { return e.propagationStopped }

// Listener handles an Event synchronously.
type Listener func(e *Event)

// EventTarget is anything listeners can be attached to (document, window).
type EventTarget interface {
	// AddEventListener registers fn for eventType and returns the func that removes it.
	AddEventListener(eventType string, fn Listener) (remove func())
}

// Document is the page document.
type Document interface {
	EventTarget
	Hidden() bool
}

// FullscreenCapability hides the vendor-prefixed Fullscreen APIs.
type FullscreenCapability interface {
	Enabled() bool
	IsFullscreen() bool
	// RequestFullscreen asks for fullscreen on the document root; the outcome is reported through OnChange.
	RequestFullscreen() error
	OnChange(fn func(fullscreen bool)) (remove func())
}

type GeoErrorCode int

const (
	GeoPermissionDenied    GeoErrorCode = 1
	GeoPositionUnavailable GeoErrorCode = 2
	GeoTimeout             GeoErrorCode = 3
)

func (c GeoErrorCode) String() string {
	switch c {
	case GeoPermissionDenied:
		return "permission denied"
	case GeoPositionUnavailable:
		return "position unavailable"
	case GeoTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown (%d)", int(c))
	}
}

type GeoError struct {
	Code    GeoErrorCode
	Message string
}

func (e GeoError) Error() string {
	if e.Message == "" {
		return "geolocation: " + e.Code.String()
	}
	return "geolocation: " + e.Code.String() + ": " + e.Message
}

type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

type WatchID int

// GeolocationCapability mirrors navigator.geolocation.
type GeolocationCapability interface {
	GetCurrentPosition(onSample func(LocationSample), onError func(GeoError), opts PositionOptions)
	WatchPosition(onSample func(LocationSample), onError func(GeoError), opts PositionOptions) WatchID
	ClearWatch(id WatchID)
}

// DeviceInfo is a best-effort snapshot of media, battery & network state.
type DeviceInfo struct {
	VideoInputs          int      `json:"video_inputs"`
	DisplayCaptureActive bool     `json:"display_capture_active"`
	BatteryLevel         *float64 `json:"battery_level,omitempty"`
	Charging             *bool    `json:"charging,omitempty"`
	NetworkType          string   `json:"network_type,omitempty"`
	DownlinkMbps         float64  `json:"downlink_mbps,omitempty"`
}

type DeviceCapability interface {
	Snapshot() (DeviceInfo, error)
}

// Timer is a pending timeout or interval.
type Timer interface {
	// Stop prevents the timer from firing again. It returns false if it had already expired or been stopped.
	Stop() bool
}

// Clock schedules timeouts & intervals.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Browser bundles the page APIs a Monitor runs against.
// Nil capabilities are treated as unsupported.
type Browser struct {
	Document    Document
	Window      EventTarget
	Fullscreen  FullscreenCapability
	Geolocation GeolocationCapability
	Devices     DeviceCapability
	Clock       Clock
	UserAgent   string
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) Every(d time.Duration, f func()) Timer {
	t := &interval{ticker: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type interval struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *interval) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
