package integrity

import (
	"sync"
)

// DefaultRecentViolations is how many violations the Reporter keeps for on-screen display.
const DefaultRecentViolations = 10

// Notifier displays toasts to the student.
type Notifier interface {
	Notify(t Toast)
}

// NotifierFunc adapts a func to a Notifier.
type NotifierFunc func(t Toast)

func (f NotifierFunc) Notify(t Toast) { f(t) }

// ReportOption sets optional Violation fields.
type ReportOption func(v *Violation)

func WithCanContinue(canContinue bool) ReportOption {
	return func(v *Violation) { v.CanContinue = &canContinue }
}

func WithDistance(meters float64) ReportOption {
	return func(v *Violation) { v.Distance = &meters }
}

// Reporter is the single funnel every detector reports through. It stamps violations,
// keeps the most recent ones and publishes them. Listeners are called synchronously and see
// every violation; channel subscribers are fire-and-forget and miss what their buffer can't hold.
type Reporter struct {
	sessionID string
	userAgent string
	clock     Clock
	notifier  Notifier
	maxRecent int

	mu      sync.Mutex
	recent  []Violation
	counts  map[ViolationType]int
	total   int
	subs      map[int]chan Violation
	listeners map[int]func(Violation)
	nextSub   int
	onDrop    func(Violation)
	closed    bool
}

func NewReporter(sessionID, userAgent string, clock Clock, notifier Notifier, maxRecent int) *Reporter {
	if clock == nil {
		clock = SystemClock()
	}
	if maxRecent <= 0 {
		maxRecent = DefaultRecentViolations
	}
	return &Reporter{
		sessionID: sessionID,
		userAgent: userAgent,
		clock:     clock,
		notifier:  notifier,
		maxRecent: maxRecent,
		recent:    make([]Violation, 0, maxRecent),
		counts:    make(map[ViolationType]int),
		subs:      make(map[int]chan Violation),
		listeners: make(map[int]func(Violation)),
	}
}

// Report stamps and publishes a new violation, then shows its toast.
func (r *Reporter) Report(vt ViolationType, severity Severity, description string, opts ...ReportOption) Violation {
	v := Violation{
		Type:        vt,
		Description: description,
		Severity:    severity,
		Timestamp:   r.clock.Now().UTC(),
		UserAgent:   r.userAgent,
		SessionID:   r.sessionID,
	}
	for _, opt := range opts {
		opt(&v)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return v
	}
	if len(r.recent) == r.maxRecent {
		copy(r.recent, r.recent[1:])
		r.recent = r.recent[:len(r.recent)-1]
	}
	r.recent = append(r.recent, v)
	r.counts[vt]++
	r.total++
	for _, fn := range r.listeners {
		fn(v)
	}
	dropped := 0
	for _, ch := range r.subs {
		select {
		case ch <- v:
		default: // slow subscriber
			dropped++
		}
	}
	onDrop := r.onDrop
	r.mu.Unlock()

	if onDrop != nil {
		for i := 0; i < dropped; i++ {
			onDrop(v)
		}
	}
	r.Notify(Toast{Level: ToastError, Message: ViolationMessage(vt)})
	return v
}

// Notify shows a toast that is not tied to a violation.
func (r *Reporter) Notify(t Toast) {
	if r.notifier != nil {
		r.notifier.Notify(t)
	}
}

// Subscribe returns a channel receiving every violation reported from now on,
// and the func that unsubscribes. The channel is closed on unsubscribe or Close.
func (r *Reporter) Subscribe(buffer int) (<-chan Violation, func()) {
	ch := make(chan Violation, buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}

// Listen registers fn to be called with every violation reported from now on, in report order,
// and returns the func that unregisters it. fn runs under the Reporter's lock and must not block
// or call back into the Reporter.
func (r *Reporter) Listen(fn func(Violation)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = fn

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// OnDrop sets the func called for each violation a subscriber channel had no room for.
func (r *Reporter) OnDrop(fn func(Violation)) {
	r.mu.Lock()
	r.onDrop = fn
	r.mu.Unlock()
}

// Recent returns the most recent violations, oldest first.
func (r *Reporter) Recent() []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Violation, len(r.recent))
	copy(out, r.recent)
	return out
}

func (r *Reporter) Counts() map[ViolationType]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ViolationType]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func (r *Reporter) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Close closes every subscription and unregisters the listeners. Later reports are dropped.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id := range r.listeners {
		delete(r.listeners, id)
	}
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
