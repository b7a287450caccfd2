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

func newGuard(conf integrity.SecurityConfig) (*testutil.Document, *integrity.Reporter, *testutil.Toasts, *integrity.InputGuard) {
	doc := testutil.NewDocument()
	toasts := &testutil.Toasts{}
	reporter := integrity.NewReporter("sess-1", "ua", testutil.NewClock(time.Now()), toasts, 0)
	guard := integrity.NewInputGuard(doc, conf, reporter, core.NewNopLogger())
	guard.Mount()
	return doc, reporter, toasts, guard
}

func TestInputGuard_PasteScenario(t *testing.T) {
	doc, reporter, toasts, _ := newGuard(integrity.SecurityConfig{PreventCopyPaste: true})

	e := doc.FireType(integrity.EventPaste)

	assert.True(t, e.DefaultPrevented())
	require.Equal(t, 1, reporter.Total())
	v := reporter.Recent()[0]
	assert.Equal(t, integrity.ViolationCopyPaste, v.Type)
	assert.Equal(t, integrity.SeverityMedium, v.Severity)
	assert.Contains(t, v.Description, "paste")
	require.Len(t, toasts.All(), 1)
	assert.Equal(t, integrity.ViolationMessage(integrity.ViolationCopyPaste), toasts.All()[0].Message)
}

func TestInputGuard_Clipboard(t *testing.T) {
	doc, reporter, _, _ := newGuard(integrity.SecurityConfig{PreventCopyPaste: true})

	for _, typ := range []string{integrity.EventCopy, integrity.EventCut} {
		e := doc.FireType(typ)
		assert.True(t, e.DefaultPrevented(), typ)
	}
	require.Equal(t, 2, reporter.Total())
	assert.Contains(t, reporter.Recent()[0].Description, "copy")
	assert.Contains(t, reporter.Recent()[1].Description, "cut")
}

func TestInputGuard_ContextMenu(t *testing.T) {
	doc, reporter, _, _ := newGuard(integrity.SecurityConfig{PreventRightClick: true})

	e := doc.FireType(integrity.EventContextMenu)

	assert.True(t, e.DefaultPrevented())
	require.Equal(t, 1, reporter.Total())
	assert.Equal(t, integrity.ViolationRightClick, reporter.Recent()[0].Type)
	assert.Equal(t, integrity.SeverityLow, reporter.Recent()[0].Severity)
}

func TestInputGuard_KeyDown(t *testing.T) {
	tests := []struct {
		name      string
		e         integrity.Event
		wantBlock bool
	}{
		{name: "F12", e: integrity.Event{Key: "F12"}, wantBlock: true},
		{name: "Shift+F12 (modifier not in table)", e: integrity.Event{Key: "F12", ShiftKey: true}, wantBlock: true},
		{name: "Ctrl+Shift+I", e: integrity.Event{Key: "I", CtrlKey: true, ShiftKey: true}, wantBlock: true},
		{name: "Ctrl+I (shift required)", e: integrity.Event{Key: "I", CtrlKey: true}, wantBlock: false},
		{name: "Ctrl+u", e: integrity.Event{Key: "u", CtrlKey: true}, wantBlock: true},
		{name: "Ctrl+Alt+u (alt is don't care)", e: integrity.Event{Key: "u", CtrlKey: true, AltKey: true}, wantBlock: true},
		{name: "u", e: integrity.Event{Key: "u"}, wantBlock: false},
		{name: "Ctrl+r", e: integrity.Event{Key: "r", CtrlKey: true}, wantBlock: true},
		{name: "F5", e: integrity.Event{Key: "F5"}, wantBlock: true},
		{name: "Ctrl+Shift+R", e: integrity.Event{Key: "R", CtrlKey: true, ShiftKey: true}, wantBlock: true},
		{name: "Alt+Tab", e: integrity.Event{Key: "Tab", AltKey: true}, wantBlock: true},
		{name: "Tab", e: integrity.Event{Key: "Tab"}, wantBlock: false},
		{name: "Ctrl+=", e: integrity.Event{Key: "=", CtrlKey: true}, wantBlock: true},
		{name: "Ctrl+-", e: integrity.Event{Key: "-", CtrlKey: true}, wantBlock: true},
		{name: "Ctrl+0", e: integrity.Event{Key: "0", CtrlKey: true}, wantBlock: true},
		{name: "Ctrl+1", e: integrity.Event{Key: "1", CtrlKey: true}, wantBlock: false},
		{name: "Ctrl+c (copy is left to the clipboard guard)", e: integrity.Event{Key: "c", CtrlKey: true}, wantBlock: false},
		{name: "Ctrl+f", e: integrity.Event{Key: "f", CtrlKey: true}, wantBlock: true},
		{name: "Ctrl+F (key is case-sensitive)", e: integrity.Event{Key: "F", CtrlKey: true}, wantBlock: false},
		{name: "a", e: integrity.Event{Key: "a"}, wantBlock: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, reporter, _, _ := newGuard(integrity.SecurityConfig{PreventKeyboardShortcuts: true})

			e := tt.e
			e.Type = integrity.EventKeyDown
			doc.Fire(&e)

			assert.Equal(t, tt.wantBlock, e.DefaultPrevented(), "preventDefault")
			assert.Equal(t, tt.wantBlock, e.PropagationStopped(), "stopPropagation")
			if tt.wantBlock {
				require.Equal(t, 1, reporter.Total())
				assert.Equal(t, integrity.ViolationKeyboardShortcut, reporter.Recent()[0].Type)
				assert.Equal(t, integrity.SeverityMedium, reporter.Recent()[0].Severity)
			} else {
				assert.Equal(t, 0, reporter.Total())
			}
		})
	}
}

func TestInputGuard_EveryTableEntryBlocks(t *testing.T) {
	doc, reporter, _, _ := newGuard(integrity.SecurityConfig{PreventKeyboardShortcuts: true})

	for _, c := range integrity.BlockedShortcuts() {
		e := &integrity.Event{Type: integrity.EventKeyDown, Key: c.Key}
		if c.Ctrl != nil {
			e.CtrlKey = *c.Ctrl
		}
		if c.Shift != nil {
			e.ShiftKey = *c.Shift
		}
		if c.Alt != nil {
			e.AltKey = *c.Alt
		}
		if c.Meta != nil {
			e.MetaKey = *c.Meta
		}
		doc.Fire(e)
		if !e.DefaultPrevented() {
			t.Errorf("%s: preventDefault not called", c)
		}
	}
	assert.Equal(t, len(integrity.BlockedShortcuts()), reporter.Total())
}

func TestInputGuard_DisabledFlags(t *testing.T) {
	doc, reporter, toasts, _ := newGuard(integrity.SecurityConfig{})

	events := []*integrity.Event{
		{Type: integrity.EventCopy},
		{Type: integrity.EventPaste},
		{Type: integrity.EventCut},
		{Type: integrity.EventContextMenu},
		{Type: integrity.EventKeyDown, Key: "F12"},
		{Type: integrity.EventKeyDown, Key: "I", CtrlKey: true, ShiftKey: true},
	}
	for _, e := range events {
		doc.Fire(e)
		assert.False(t, e.DefaultPrevented(), e.Type)
		assert.False(t, e.PropagationStopped(), e.Type)
	}
	assert.Equal(t, 0, reporter.Total())
	assert.Empty(t, toasts.All())
	assert.Equal(t, 0, doc.Listeners())
}

func TestInputGuard_OnlyEnabledFlag(t *testing.T) {
	doc, reporter, _, _ := newGuard(integrity.SecurityConfig{PreventRightClick: true})

	paste := doc.FireType(integrity.EventPaste)
	key := doc.Fire(&integrity.Event{Type: integrity.EventKeyDown, Key: "F12"})

	assert.False(t, paste.DefaultPrevented())
	assert.False(t, key.DefaultPrevented())
	assert.Equal(t, 0, reporter.Total())
	assert.Equal(t, 1, doc.Listeners())
}

func TestInputGuard_Unmount(t *testing.T) {
	doc, reporter, _, guard := newGuard(integrity.SecurityConfig{
		PreventCopyPaste:         true,
		PreventRightClick:        true,
		PreventKeyboardShortcuts: true,
	})
	assert.Equal(t, 5, doc.Listeners())

	guard.Unmount()
	assert.Equal(t, 0, doc.Listeners())

	e := doc.FireType(integrity.EventPaste)
	assert.False(t, e.DefaultPrevented())
	assert.Equal(t, 0, reporter.Total())
}

func TestChord_String(t *testing.T) {
	want := []string{
		"F12", "Ctrl+Shift+I", "Ctrl+Shift+J", "Ctrl+Shift+C", "Ctrl+U",
		"Ctrl+R", "F5", "Ctrl+Shift+R",
		"Ctrl+H", "Ctrl+J", "Ctrl+D",
		"Ctrl+T", "Ctrl+W", "Ctrl+Shift+T", "Ctrl+N", "Ctrl+Shift+N", "Alt+Tab",
		"Ctrl+F", "Ctrl+G",
		"Ctrl+=", "Ctrl+-", "Ctrl+0",
	}
	chords := integrity.BlockedShortcuts()
	got := make([]string, 0, len(chords))
	for _, c := range chords {
		got = append(got, c.String())
	}
	assert.Equal(t, want, got)
}

func TestBlockedShortcuts_IsACopy(t *testing.T) {
	chords := integrity.BlockedShortcuts()
	require.Equal(t, "Ctrl+Shift+I", chords[1].String())

	// writing through one entry's modifiers leaves the others and the table alone
	*chords[1].Ctrl = false
	*chords[1].Shift = false
	chords[2].Key = "K"
	assert.Equal(t, "I", chords[1].String())
	assert.Equal(t, "Ctrl+Shift+K", chords[2].String())

	fresh := integrity.BlockedShortcuts()
	assert.Equal(t, "Ctrl+Shift+I", fresh[1].String())
	assert.Equal(t, "Ctrl+Shift+J", fresh[2].String())

	c, ok := integrity.MatchShortcut(&integrity.Event{Type: integrity.EventKeyDown, Key: "u", CtrlKey: true})
	require.True(t, ok)
	*c.Ctrl = false
	_, ok = integrity.MatchShortcut(&integrity.Event{Type: integrity.EventKeyDown, Key: "u", CtrlKey: true})
	assert.True(t, ok)
}
