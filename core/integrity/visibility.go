package integrity

import (
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
)

// DefaultFlickerWindow drops repeats of the same violation fired in quick succession by some OSes.
const DefaultFlickerWindow = time.Second

// VisibilityWatcher reports tab switches and focus loss.
type VisibilityWatcher struct {
	doc      Document
	win      EventTarget
	reporter *Reporter
	clock    Clock
	logger   core.Logger
	flicker  time.Duration

	mu       sync.Mutex
	removers []func()
	hidden   bool
	blurred  bool
	last     map[ViolationType]time.Time
}

func NewVisibilityWatcher(doc Document, win EventTarget, reporter *Reporter, clock Clock, logger core.Logger, flicker time.Duration) *VisibilityWatcher {
	return &VisibilityWatcher{
		doc:      doc,
		win:      win,
		reporter: reporter,
		clock:    clock,
		logger:   logger,
		flicker:  flicker,
		last:     make(map[ViolationType]time.Time),
	}
}

// Mount starts listening. It is a no-op when already mounted.
func (w *VisibilityWatcher) Mount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.removers) > 0 {
		return
	}

	if w.doc != nil {
		w.hidden = w.doc.Hidden()
		w.removers = append(w.removers, w.doc.AddEventListener(EventVisibilityChange, w.onVisibilityChange))
	}
	if w.win != nil {
		w.blurred = false
		w.removers = append(w.removers,
			w.win.AddEventListener(EventBlur, w.onBlur),
			w.win.AddEventListener(EventFocus, w.onFocus),
		)
	}
}

func (w *VisibilityWatcher) Unmount() {
	w.mu.Lock()
	removers := w.removers
	w.removers = nil
	w.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

func (w *VisibilityWatcher) onVisibilityChange(_ *Event) {
	hidden := w.doc.Hidden()

	w.mu.Lock()
	changed := hidden != w.hidden
	w.hidden = hidden
	report := changed && hidden && w.allow(ViolationTabChange)
	w.mu.Unlock()

	if !changed {
		return
	}
	if !hidden {
		w.logger.Debug("page visible again")
		return
	}
	if report {
		w.reporter.Report(ViolationTabChange, SeverityHigh, "Student switched to another tab or minimized the window")
	}
}

func (w *VisibilityWatcher) onBlur(_ *Event) {
	w.mu.Lock()
	changed := !w.blurred
	w.blurred = true
	report := changed && w.allow(ViolationWindowBlur)
	w.mu.Unlock()

	if report {
		w.reporter.Report(ViolationWindowBlur, SeverityMedium, "Quiz window lost focus")
	}
}

func (w *VisibilityWatcher) onFocus(_ *Event) {
	w.mu.Lock()
	changed := w.blurred
	w.blurred = false
	w.mu.Unlock()

	if changed {
		w.logger.Debug("quiz window focused again")
	}
}

// allow applies the flicker window. Callers hold w.mu.
func (w *VisibilityWatcher) allow(vt ViolationType) bool {
	now := w.clock.Now()
	if last, ok := w.last[vt]; ok && w.flicker > 0 && now.Sub(last) < w.flicker {
		w.logger.Debug("dropped repeated "+string(vt), map[string]interface{}{"since_last": now.Sub(last).String()})
		return false
	}
	w.last[vt] = now
	return true
}
