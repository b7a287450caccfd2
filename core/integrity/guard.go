package integrity

import (
	"sync"

	"github.com/trezcool/masomo-proctor/core"
)

// InputGuard suppresses clipboard actions, the context menu and the blocked shortcuts.
// Handlers run synchronously so suppression happens before the event returns.
type InputGuard struct {
	doc      EventTarget
	conf     SecurityConfig
	reporter *Reporter
	logger   core.Logger

	mu       sync.Mutex
	removers []func()
}

func NewInputGuard(doc EventTarget, conf SecurityConfig, reporter *Reporter, logger core.Logger) *InputGuard {
	return &InputGuard{doc: doc, conf: conf, reporter: reporter, logger: logger}
}

// Mount registers only the listeners whose flag is on.
func (g *InputGuard) Mount() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.doc == nil || len(g.removers) > 0 {
		return
	}

	if g.conf.PreventCopyPaste {
		for _, typ := range []string{EventCopy, EventPaste, EventCut} {
			g.removers = append(g.removers, g.doc.AddEventListener(typ, g.onClipboard))
		}
	}
	if g.conf.PreventRightClick {
		g.removers = append(g.removers, g.doc.AddEventListener(EventContextMenu, g.onContextMenu))
	}
	if g.conf.PreventKeyboardShortcuts {
		g.removers = append(g.removers, g.doc.AddEventListener(EventKeyDown, g.onKeyDown))
	}
}

func (g *InputGuard) Unmount() {
	g.mu.Lock()
	removers := g.removers
	g.removers = nil
	g.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

func (g *InputGuard) onClipboard(e *Event) {
	if !g.conf.PreventCopyPaste {
		return
	}
	e.PreventDefault()
	g.reporter.Report(ViolationCopyPaste, SeverityMedium, "Attempted to "+e.Type+" content")
}

func (g *InputGuard) onContextMenu(e *Event) {
	if !g.conf.PreventRightClick {
		return
	}
	e.PreventDefault()
	g.reporter.Report(ViolationRightClick, SeverityLow, "Attempted to open the context menu")
}

func (g *InputGuard) onKeyDown(e *Event) {
	if !g.conf.PreventKeyboardShortcuts {
		return
	}
	chord, ok := MatchShortcut(e)
	if !ok {
		return
	}
	e.PreventDefault()
	e.StopPropagation()
	g.reporter.Report(
		ViolationKeyboardShortcut,
		SeverityMedium,
		"Attempted to use blocked shortcut "+chord.String()+" ("+chord.Description+")",
	)
}
