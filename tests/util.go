package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
)

// Clock is a manual integrity.Clock. Timers fire from Advance, on the caller's goroutine.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

var _ integrity.Clock = (*Clock)(nil)

func NewClock(now time.Time) *Clock {
	return &Clock{now: now, timers: make(map[int]*fakeTimer)}
}

type fakeTimer struct {
	clock    *Clock
	id       int
	at       time.Time
	interval time.Duration
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) integrity.Timer {
	return c.schedule(d, 0, f)
}

func (c *Clock) Every(d time.Duration, f func()) integrity.Timer {
	return c.schedule(d, d, f)
}

func (c *Clock) schedule(d, interval time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, at: c.now.Add(d), interval: interval, fn: f}
	c.timers[t.id] = t
	return t
}

// Advance moves the clock forward and runs every timer due, in order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := make([]*fakeTimer, 0, len(c.timers))
		for _, t := range c.timers {
			if !t.at.After(end) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = end
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].id < due[j].id
			}
			return due[i].at.Before(due[j].at)
		})
		t := due[0]
		c.now = t.at
		if t.interval > 0 {
			t.at = t.at.Add(t.interval)
		} else {
			delete(c.timers, t.id)
		}
		c.mu.Unlock()

		t.fn()
	}
}

// Pending returns the number of timers & intervals not yet stopped or fired.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Target is a fake EventTarget counting registered listeners.
type Target struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]integrity.Listener
	added     int
	removed   int
}

var _ integrity.EventTarget = (*Target)(nil)

func NewTarget() *Target {
	return &Target{listeners: make(map[string]map[int]integrity.Listener)}
}

func (t *Target) AddEventListener(eventType string, fn integrity.Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if t.listeners[eventType] == nil {
		t.listeners[eventType] = make(map[int]integrity.Listener)
	}
	t.listeners[eventType][id] = fn
	t.added++

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.listeners[eventType], id)
			t.removed++
		})
	}
}

// Fire delivers e to every listener of its type and returns it.
func (t *Target) Fire(e *integrity.Event) *integrity.Event {
	t.mu.Lock()
	ids := make([]int, 0, len(t.listeners[e.Type]))
	for id := range t.listeners[e.Type] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]integrity.Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.listeners[e.Type][id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
	return e
}

// FireType is shorthand for Fire(&integrity.Event{Type: eventType}).
func (t *Target) FireType(eventType string) *integrity.Event {
	return t.Fire(&integrity.Event{Type: eventType})
}

// Listeners returns the number of registered listeners.
func (t *Target) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fns := range t.listeners {
		n += len(fns)
	}
	return n
}

// Document is a fake Document with a settable visibility.
type Document struct {
	*Target
	mu     sync.Mutex
	hidden bool
}

var _ integrity.Document = (*Document)(nil)

func NewDocument() *Document {
	return &Document{Target: NewTarget()}
}

func (d *Document) Hidden() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden
}

// SetHidden changes the visibility and fires visibilitychange.
func (d *Document) SetHidden(hidden bool) {
	d.mu.Lock()
	d.hidden = hidden
	d.mu.Unlock()
	d.FireType(integrity.EventVisibilityChange)
}

// Fullscreen is a fake FullscreenCapability.
type Fullscreen struct {
	mu         sync.Mutex
	enabled    bool
	fullscreen bool
	requests   int
	requestErr error
	listeners  map[int]func(bool)
	nextID     int
}

var _ integrity.FullscreenCapability = (*Fullscreen)(nil)

func NewFullscreen(enabled bool) *Fullscreen {
	return &Fullscreen{enabled: enabled, listeners: make(map[int]func(bool))}
}

func (f *Fullscreen) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *Fullscreen) IsFullscreen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullscreen
}

// RequestFullscreen grants the request unless FailRequests was set.
func (f *Fullscreen) RequestFullscreen() error {
	f.mu.Lock()
	f.requests++
	err := f.requestErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.Set(true)
	return nil
}

func (f *Fullscreen) FailRequests(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestErr = err
}

func (f *Fullscreen) OnChange(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Set changes the fullscreen state and notifies listeners when it differs.
func (f *Fullscreen) Set(fullscreen bool) {
	f.mu.Lock()
	if f.fullscreen == fullscreen {
		f.mu.Unlock()
		return
	}
	f.fullscreen = fullscreen
	fns := make([]func(bool), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(fullscreen)
	}
}

func (f *Fullscreen) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *Fullscreen) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Geolocation is a fake GeolocationCapability. Fixes are pushed with Send & Fail.
type Geolocation struct {
	mu      sync.Mutex
	nextID  integrity.WatchID
	watches map[integrity.WatchID]geoWatch
	oneShot []geoWatch
	Opts    []integrity.PositionOptions
	cleared int
}

type geoWatch struct {
	onSample func(integrity.LocationSample)
	onError  func(integrity.GeoError)
}

var _ integrity.GeolocationCapability = (*Geolocation)(nil)

func NewGeolocation() *Geolocation {
	return &Geolocation{watches: make(map[integrity.WatchID]geoWatch)}
}

func (g *Geolocation) GetCurrentPosition(onSample func(integrity.LocationSample), onError func(integrity.GeoError), opts integrity.PositionOptions) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oneShot = append(g.oneShot, geoWatch{onSample, onError})
	g.Opts = append(g.Opts, opts)
}

func (g *Geolocation) WatchPosition(onSample func(integrity.LocationSample), onError func(integrity.GeoError), opts integrity.PositionOptions) integrity.WatchID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.watches[g.nextID] = geoWatch{onSample, onError}
	g.Opts = append(g.Opts, opts)
	return g.nextID
}

func (g *Geolocation) ClearWatch(id integrity.WatchID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.watches[id]; ok {
		delete(g.watches, id)
		g.cleared++
	}
}

func (g *Geolocation) callbacks() []geoWatch {
	g.mu.Lock()
	defer g.mu.Unlock()
	ws := make([]geoWatch, 0, len(g.watches)+len(g.oneShot))
	ws = append(ws, g.oneShot...)
	g.oneShot = nil
	for _, w := range g.watches {
		ws = append(ws, w)
	}
	return ws
}

// Send delivers a fix at lat/lon to pending one-shot requests and every active watch.
func (g *Geolocation) Send(lat, lon float64) {
	for _, w := range g.callbacks() {
		w.onSample(integrity.LocationSample{Latitude: lat, Longitude: lon, Accuracy: 10})
	}
}

// Fail delivers a geolocation error the same way Send delivers fixes.
func (g *Geolocation) Fail(code integrity.GeoErrorCode) {
	for _, w := range g.callbacks() {
		w.onError(integrity.GeoError{Code: code})
	}
}

// Watches returns the number of active watches.
func (g *Geolocation) Watches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watches)
}

// Devices is a fake DeviceCapability returning a settable snapshot.
type Devices struct {
	mu   sync.Mutex
	info integrity.DeviceInfo
	err  error
}

func (d *Devices) Set(info integrity.DeviceInfo, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info, d.err = info, err
}

func (d *Devices) Snapshot() (integrity.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, d.err
}

// Toasts records the toasts shown.
type Toasts struct {
	mu    sync.Mutex
	toast []integrity.Toast
}

func (n *Toasts) Notify(t integrity.Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toast = append(n.toast, t)
}

func (n *Toasts) All() []integrity.Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]integrity.Toast, len(n.toast))
	copy(out, n.toast)
	return out
}

// Browser bundles a full set of fakes.
type Browser struct {
	Clock       *Clock
	Document    *Document
	Window      *Target
	Fullscreen  *Fullscreen
	Geolocation *Geolocation
	Devices     *Devices
}

func NewBrowser() *Browser {
	return &Browser{
		Clock:       NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Document:    NewDocument(),
		Window:      NewTarget(),
		Fullscreen:  NewFullscreen(true),
		Geolocation: NewGeolocation(),
		Devices:     &Devices{},
	}
}

func (b *Browser) Browser() integrity.Browser {
	return integrity.Browser{
		Document:    b.Document,
		Window:      b.Window,
		Fullscreen:  b.Fullscreen,
		Geolocation: b.Geolocation,
		Devices:     b.Devices,
		Clock:       b.Clock,
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/124.0",
	}
}

// Listeners sums the listeners left on every fake.
func (b *Browser) Listeners() int {
	return b.Document.Listeners() + b.Window.Listeners() + b.Fullscreen.Listeners()
}

// Mailbox is a core.EmailService that keeps the messages instead of sending them.
type Mailbox struct {
	mu   sync.Mutex
	msgs []core.EmailMessage
}

var _ core.EmailService = (*Mailbox)(nil)

func (m *Mailbox) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.msgs = append(m.msgs, *msg)
	}
}

func (m *Mailbox) Messages() []core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.EmailMessage(nil), m.msgs...)
}
