package integrity

import "strings"

// Chord is one blocked keyboard shortcut.
// A nil modifier means "don't care"; a set one must equal the live event state.
type Chord struct {
	Key         string `json:"key"`
	Ctrl        *bool  `json:"ctrl_key,omitempty"`
	Shift       *bool  `json:"shift_key,omitempty"`
	Alt         *bool  `json:"alt_key,omitempty"`
	Meta        *bool  `json:"meta_key,omitempty"`
	Description string `json:"description"`
}

func on() *bool {
	b := true
	return &b
}

// blockedShortcuts is the fixed chord table. Keys are compared exactly, so chords
// with Shift use the upper-case letter the browser reports.
var blockedShortcuts = []Chord{
	// developer tools
	{Key: "F12", Description: "developer tools"},
	{Key: "I", Ctrl: on(), Shift: on(), Description: "developer tools"},
	{Key: "J", Ctrl: on(), Shift: on(), Description: "developer console"},
	{Key: "C", Ctrl: on(), Shift: on(), Description: "element inspector"},
	{Key: "u", Ctrl: on(), Description: "view source"},

	// refresh
	{Key: "r", Ctrl: on(), Description: "refresh"},
	{Key: "F5", Description: "refresh"},
	{Key: "R", Ctrl: on(), Shift: on(), Description: "hard refresh"},

	// history, downloads & bookmarks
	{Key: "h", Ctrl: on(), Description: "history"},
	{Key: "j", Ctrl: on(), Description: "downloads"},
	{Key: "d", Ctrl: on(), Description: "bookmark"},

	// tab & window management
	{Key: "t", Ctrl: on(), Description: "new tab"},
	{Key: "w", Ctrl: on(), Description: "close tab"},
	{Key: "T", Ctrl: on(), Shift: on(), Description: "reopen closed tab"},
	{Key: "n", Ctrl: on(), Description: "new window"},
	{Key: "N", Ctrl: on(), Shift: on(), Description: "new incognito window"},
	{Key: "Tab", Alt: on(), Description: "switch window"},

	// find
	{Key: "f", Ctrl: on(), Description: "find"},
	{Key: "g", Ctrl: on(), Description: "find next"},

	// zoom
	{Key: "=", Ctrl: on(), Description: "zoom in"},
	{Key: "-", Ctrl: on(), Description: "zoom out"},
	{Key: "0", Ctrl: on(), Description: "reset zoom"},
}

// BlockedShortcuts returns a copy of the blocked chord table.
func BlockedShortcuts() []Chord {
	out := make([]Chord, len(blockedShortcuts))
	for i, c := range blockedShortcuts {
		out[i] = c.clone()
	}
	return out
}

func (c Chord) clone() Chord {
	c.Ctrl = cloneBool(c.Ctrl)
	c.Shift = cloneBool(c.Shift)
	c.Alt = cloneBool(c.Alt)
	c.Meta = cloneBool(c.Meta)
	return c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Matches reports whether the keydown event e triggers the chord.
func (c Chord) Matches(e *Event) bool {
	if e.Key != c.Key {
		return false
	}
	return modifierMatches(c.Ctrl, e.CtrlKey) &&
		modifierMatches(c.Shift, e.ShiftKey) &&
		modifierMatches(c.Alt, e.AltKey) &&
		modifierMatches(c.Meta, e.MetaKey)
}

// String renders the chord as it is pressed, e.g. "Ctrl+Shift+I".
func (c Chord) String() string {
	parts := make([]string, 0, 5)
	if c.Ctrl != nil && *c.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if c.Alt != nil && *c.Alt {
		parts = append(parts, "Alt")
	}
	if c.Shift != nil && *c.Shift {
		parts = append(parts, "Shift")
	}
	if c.Meta != nil && *c.Meta {
		parts = append(parts, "Meta")
	}
	key := c.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	return strings.Join(append(parts, key), "+")
}

func modifierMatches(want *bool, got bool) bool {
	return want == nil || *want == got
}

// MatchShortcut returns the first blocked chord matching e.
func MatchShortcut(e *Event) (Chord, bool) {
	for _, c := range blockedShortcuts {
		if c.Matches(e) {
			return c.clone(), true
		}
	}
	return Chord{}, false
}
