package integrity

import "time"

// ViolationType classifies a detected rule breach.
type ViolationType string

const (
	ViolationTabChange        ViolationType = "tab_change"
	ViolationWindowBlur       ViolationType = "window_blur"
	ViolationCopyPaste        ViolationType = "copy_paste"
	ViolationRightClick       ViolationType = "right_click"
	ViolationKeyboardShortcut ViolationType = "keyboard_shortcut"
	ViolationFullscreenExit   ViolationType = "fullscreen_exit"
	ViolationLocation         ViolationType = "location_violation"
	ViolationScreenRecording  ViolationType = "screen_recording"
)

var ViolationTypes = []ViolationType{
	ViolationTabChange,
	ViolationWindowBlur,
	ViolationCopyPaste,
	ViolationRightClick,
	ViolationKeyboardShortcut,
	ViolationFullscreenExit,
	ViolationLocation,
	ViolationScreenRecording,
}

func (vt ViolationType) Valid() bool {
	for _, t := range ViolationTypes {
		if t == vt {
			return true
		}
	}
	return false
}

// Severity is a coarse ranking used for display and triage only.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	for _, sev := range Severities {
		if sev == s {
			return true
		}
	}
	return false
}

// SecurityConfig holds the per-quiz feature toggles. It does not change during a session.
type SecurityConfig struct {
	PreventTabSwitching      bool `json:"prevent_tab_switching"`
	PreventCopyPaste         bool `json:"prevent_copy_paste"`
	PreventRightClick        bool `json:"prevent_right_click"`
	PreventKeyboardShortcuts bool `json:"prevent_keyboard_shortcuts"`
	RequireFullscreen        bool `json:"require_fullscreen"`
}

// Violation is a timestamped record of a detected rule breach. It is never mutated once reported.
type Violation struct {
	Type        ViolationType `json:"violation_type"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Timestamp   time.Time     `json:"timestamp"` // UTC
	UserAgent   string        `json:"user_agent"`
	SessionID   string        `json:"session_id"`

	// location_violation only
	CanContinue *bool    `json:"can_continue,omitempty"`
	Distance    *float64 `json:"distance_meters,omitempty"`
}

// AllowedLocation is the circular geofence a device must stay in.
type AllowedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // meters
}

// LocationSample is one geolocation fix.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toast is a transient user-facing notification.
type Toast struct {
	Level   ToastLevel `json:"level"`
	Message string     `json:"message"`
}

var violationMessages = map[ViolationType]string{
	ViolationTabChange:        "Tab switching detected! This incident has been reported.",
	ViolationWindowBlur:       "Window focus lost! Please stay on the quiz page.",
	ViolationCopyPaste:        "Copy and paste are disabled during this quiz.",
	ViolationRightClick:       "Right-click is disabled during this quiz.",
	ViolationKeyboardShortcut: "Keyboard shortcuts are disabled during this quiz.",
	ViolationFullscreenExit:   "You left fullscreen mode. Please return to fullscreen to continue.",
	ViolationLocation:         "You are outside the allowed quiz area!",
	ViolationScreenRecording:  "Screen recording or capture devices are not allowed during this quiz.",
}

// ViolationMessage returns the toast text shown to the student for a violation type.
func ViolationMessage(vt ViolationType) string {
	if msg, ok := violationMessages[vt]; ok {
		return msg
	}
	return "Security violation detected."
}
