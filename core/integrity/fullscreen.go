package integrity

import (
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
)

// DefaultFullscreenDelay is how long after activation fullscreen is first requested.
const DefaultFullscreenDelay = 2 * time.Second

// FullscreenEnforcer requests fullscreen and reports exits from it.
type FullscreenEnforcer struct {
	fs       FullscreenCapability
	reporter *Reporter
	clock    Clock
	logger   core.Logger
	delay    time.Duration

	mu         sync.Mutex
	mounted    bool
	fullscreen bool
	timer      Timer
	remove     func()
}

func NewFullscreenEnforcer(fs FullscreenCapability, reporter *Reporter, clock Clock, logger core.Logger, delay time.Duration) *FullscreenEnforcer {
	return &FullscreenEnforcer{fs: fs, reporter: reporter, clock: clock, logger: logger, delay: delay}
}

// Supported reports whether the Fullscreen API is available.
func (f *FullscreenEnforcer) Supported() bool {
	return f.fs != nil && f.fs.Enabled()
}

// Mount tracks fullscreen changes and schedules the initial request.
// When the API is missing a toast is shown and nothing else happens.
func (f *FullscreenEnforcer) Mount() {
	if !f.Supported() {
		f.logger.Warn("fullscreen API not supported")
		f.reporter.Notify(Toast{Level: ToastWarning, Message: "Fullscreen mode is not supported by this browser."})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mounted {
		return
	}
	f.mounted = true
	f.fullscreen = f.fs.IsFullscreen()
	// neither call runs its callback synchronously
	f.remove = f.fs.OnChange(f.onChange)
	f.timer = f.clock.AfterFunc(f.delay, f.request)
}

func (f *FullscreenEnforcer) Unmount() {
	f.mu.Lock()
	f.mounted = false
	timer, remove := f.timer, f.remove
	f.timer, f.remove = nil, nil
	f.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if remove != nil {
		remove()
	}
}

// PromptRequired reports whether the page must block the quiz behind a re-enter fullscreen modal.
func (f *FullscreenEnforcer) PromptRequired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted && !f.fullscreen
}

func (f *FullscreenEnforcer) IsFullscreen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullscreen
}

// Reenter asks for fullscreen again, typically from the modal's button.
func (f *FullscreenEnforcer) Reenter() {
	if !f.Supported() {
		return
	}
	f.request()
}

func (f *FullscreenEnforcer) request() {
	f.mu.Lock()
	mounted := f.mounted
	f.mu.Unlock()
	if !mounted {
		return
	}

	if err := f.fs.RequestFullscreen(); err != nil {
		f.logger.Warn("fullscreen request failed", err)
		f.reporter.Notify(Toast{Level: ToastWarning, Message: "Please enable fullscreen mode to continue the quiz."})
	}
}

func (f *FullscreenEnforcer) onChange(fullscreen bool) {
	f.mu.Lock()
	exited := f.mounted && f.fullscreen && !fullscreen
	f.fullscreen = fullscreen
	f.mu.Unlock()

	if exited {
		f.reporter.Report(ViolationFullscreenExit, SeverityHigh, "Student exited fullscreen mode")
	}
}
