// Package remote implements the integrity browser capabilities on top of telemetry
// forwarded by the quiz page. Events come in as Envelopes, API calls go out as Commands.
package remote

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core/integrity"
)

// DefaultCommandBuffer is the number of commands kept for the shim before new ones are dropped.
const DefaultCommandBuffer = 64

// ErrNoSnapshot is returned by the device capability until the shim reports one.
var ErrNoSnapshot = errors.New("no device snapshot yet")

// Bridge is the server side of one browser tab.
type Bridge struct {
	caps     Capabilities
	doc      *document
	win      *target
	commands chan Command

	mu           sync.Mutex
	inFullscreen bool
	fsListeners  map[int]func(bool)
	nextListener int
	watches      map[integrity.WatchID]positionHandler
	requests     map[int]positionHandler
	nextWatch    integrity.WatchID
	nextRequest  int
	device       *integrity.DeviceInfo
	closed       bool
}

type positionHandler struct {
	onSample func(integrity.LocationSample)
	onError  func(integrity.GeoError)
}

func NewBridge(caps Capabilities, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = DefaultCommandBuffer
	}
	return &Bridge{
		caps:        caps,
		doc:         &document{target: newTarget()},
		win:         newTarget(),
		commands:    make(chan Command, buffer),
		fsListeners: make(map[int]func(bool)),
		watches:     make(map[integrity.WatchID]positionHandler),
		requests:    make(map[int]positionHandler),
	}
}

// Browser exposes the bridge as an integrity.Browser. Capabilities the shim did not report stay nil.
func (b *Bridge) Browser(clock integrity.Clock, userAgent string) integrity.Browser {
	br := integrity.Browser{
		Document:  b.doc,
		Window:    b.win,
		Clock:     clock,
		UserAgent: userAgent,
	}
	if b.caps.Fullscreen {
		br.Fullscreen = (*fullscreen)(b)
	}
	if b.caps.Geolocation {
		br.Geolocation = (*geolocation)(b)
	}
	if b.caps.Devices {
		br.Devices = (*devices)(b)
	}
	return br
}

// Commands streams the commands for the shim.
func (b *Bridge) Commands() <-chan Command {
	return b.commands
}

// PendingCommands drains the queued commands without blocking.
func (b *Bridge) PendingCommands() []Command {
	var cmds []Command
	for {
		select {
		case cmd, ok := <-b.commands:
			if !ok {
				return cmds
			}
			cmds = append(cmds, cmd)
		default:
			return cmds
		}
	}
}

// Notify queues a toast for the shim. It makes the bridge an integrity.Notifier.
func (b *Bridge) Notify(t integrity.Toast) {
	b.send(Command{Name: CmdShowToast, Args: map[string]interface{}{"level": string(t.Level), "message": t.Message}})
}

func (b *Bridge) send(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.commands <- cmd:
	default: // shim is not reading
	}
}

// Close stops command delivery and closes the Commands channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.commands)
}

// Dispatch applies one envelope. DOM events run their listeners synchronously and return the verdict.
func (b *Bridge) Dispatch(env Envelope) (*Verdict, error) {
	payload, err := parse(env)
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case eventPayload:
		return b.dispatchEvent(env.Seq, p), nil

	case fullscreenPayload:
		b.setFullscreen(p.Fullscreen)

	case positionPayload:
		h, ok := b.handler(p.WatchID, p.RequestID)
		if !ok {
			return nil, nil // cleared meanwhile
		}
		h.onSample(p.sample())

	case positionErrorPayload:
		h, ok := b.handler(p.WatchID, p.RequestID)
		if !ok {
			return nil, nil
		}
		h.onError(integrity.GeoError{Code: integrity.GeoErrorCode(p.Code), Message: p.Message})

	case devicePayload:
		info := p.info()
		b.mu.Lock()
		b.device = &info
		b.mu.Unlock()
	}
	return nil, nil
}

func (b *Bridge) dispatchEvent(seq int64, p eventPayload) *Verdict {
	e := &integrity.Event{
		Type:     p.Type,
		Key:      p.Key,
		CtrlKey:  p.CtrlKey,
		ShiftKey: p.ShiftKey,
		AltKey:   p.AltKey,
		MetaKey:  p.MetaKey,
	}

	if p.Target == TargetWindow {
		b.win.fire(e)
	} else {
		if p.Hidden != nil {
			b.doc.setHidden(*p.Hidden)
		}
		b.doc.fire(e)
	}
	return &Verdict{Seq: seq, Prevented: e.DefaultPrevented(), Stopped: e.PropagationStopped()}
}

// handler looks up a watch, or a one-shot request which it consumes.
func (b *Bridge) handler(watchID, requestID int) (positionHandler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if watchID > 0 {
		h, ok := b.watches[integrity.WatchID(watchID)]
		return h, ok
	}
	h, ok := b.requests[requestID]
	delete(b.requests, requestID)
	return h, ok
}

func (b *Bridge) setFullscreen(fs bool) {
	b.mu.Lock()
	if b.inFullscreen == fs {
		b.mu.Unlock()
		return
	}
	b.inFullscreen = fs
	ids := make([]int, 0, len(b.fsListeners))
	for id := range b.fsListeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.fsListeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(fs)
	}
}

// Listeners returns the number of DOM & fullscreen listeners still registered.
func (b *Bridge) Listeners() int {
	b.mu.Lock()
	n := len(b.fsListeners)
	b.mu.Unlock()
	return n + b.doc.count() + b.win.count()
}

// Watches returns the number of active position watches.
func (b *Bridge) Watches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watches)
}

type fullscreen Bridge

func (f *fullscreen) Enabled() bool { return f.caps.Fullscreen }

func (f *fullscreen) IsFullscreen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFullscreen
}

func (f *fullscreen) RequestFullscreen() error {
	(*Bridge)(f).send(Command{Name: CmdRequestFullscreen})
	return nil
}

func (f *fullscreen) OnChange(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextListener++
	id := f.nextListener
	f.fsListeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.fsListeners, id)
	}
}

type geolocation Bridge

func positionArgs(opts integrity.PositionOptions) map[string]interface{} {
	return map[string]interface{}{
		"enable_high_accuracy": opts.EnableHighAccuracy,
		"timeout_ms":           opts.Timeout.Milliseconds(),
		"maximum_age_ms":       opts.MaximumAge.Milliseconds(),
	}
}

func (g *geolocation) GetCurrentPosition(onSample func(integrity.LocationSample), onError func(integrity.GeoError), opts integrity.PositionOptions) {
	g.mu.Lock()
	g.nextRequest++
	id := g.nextRequest
	g.requests[id] = positionHandler{onSample, onError}
	g.mu.Unlock()

	args := positionArgs(opts)
	args["request_id"] = id
	(*Bridge)(g).send(Command{Name: CmdGetCurrentPosition, Args: args})
}

func (g *geolocation) WatchPosition(onSample func(integrity.LocationSample), onError func(integrity.GeoError), opts integrity.PositionOptions) integrity.WatchID {
	g.mu.Lock()
	g.nextWatch++
	id := g.nextWatch
	g.watches[id] = positionHandler{onSample, onError}
	g.mu.Unlock()

	args := positionArgs(opts)
	args["watch_id"] = int(id)
	(*Bridge)(g).send(Command{Name: CmdWatchPosition, Args: args})
	return id
}

func (g *geolocation) ClearWatch(id integrity.WatchID) {
	g.mu.Lock()
	_, ok := g.watches[id]
	delete(g.watches, id)
	g.mu.Unlock()

	if ok {
		(*Bridge)(g).send(Command{Name: CmdClearWatch, Args: map[string]interface{}{"watch_id": int(id)}})
	}
}

type devices Bridge

func (d *devices) Snapshot() (integrity.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return integrity.DeviceInfo{}, ErrNoSnapshot
	}
	return *d.device, nil
}

type target struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]integrity.Listener
}

func newTarget() *target {
	return &target{listeners: make(map[string]map[int]integrity.Listener)}
}

func (t *target) AddEventListener(eventType string, fn integrity.Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if t.listeners[eventType] == nil {
		t.listeners[eventType] = make(map[int]integrity.Listener)
	}
	t.listeners[eventType][id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners[eventType], id)
	}
}

// fire runs the listeners in registration order, outside the lock.
func (t *target) fire(e *integrity.Event) {
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
}

func (t *target) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fns := range t.listeners {
		n += len(fns)
	}
	return n
}

type document struct {
	*target
	hmu    sync.Mutex
	hidden bool
}

func (d *document) Hidden() bool {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return d.hidden
}

func (d *document) setHidden(hidden bool) {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	d.hidden = hidden
}
