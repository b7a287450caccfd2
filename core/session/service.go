package session

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/integrity/remote"
)

var (
	// errors
	ErrNotFound      = errors.New("session not found")
	ErrEnded         = errors.New("session has ended")
	ErrForbidden     = errors.New("you do not have permission to access this session")
	ErrSessionExists = errors.New("an active session already exists for this quiz")
)

// Delivery sinks, as reported to Metrics.DeliveryFailed. SinkSubscriber is a stream
// observer that was too slow to receive a violation.
const (
	SinkStore      = "store"
	SinkBroker     = "broker"
	SinkBackend    = "backend"
	SinkEmail      = "email"
	SinkSubscriber = "subscriber"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	subscriptionBuffer     = 64
)

type (
	Repository interface {
		SaveViolation(ctx context.Context, rec Record) error
		// QueryViolations applies AND operation on the set QueryFilter fields, oldest first.
		QueryViolations(ctx context.Context, filter QueryFilter) ([]Record, error)
		DeleteViolationsBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Publisher broadcasts recorded violations to other instances.
	Publisher interface {
		Publish(ctx context.Context, rec Record) error
	}

	// Forwarder delivers violations to the grading backend.
	Forwarder interface {
		Forward(ctx context.Context, v integrity.Violation) error
	}

	Metrics interface {
		SessionStarted()
		SessionEnded(d time.Duration)
		ViolationRecorded(vt integrity.ViolationType, sev integrity.Severity)
		DeliveryFailed(sink string)
	}

	// Deps are the collaborators of the Service. Repo is required.
	Deps struct {
		Repo      Repository
		Publisher Publisher
		Forwarder Forwarder
		Metrics   Metrics
		Mail      core.EmailService
		Logger    core.Logger
		Clock     integrity.Clock
	}

	Options struct {
		Proctor         core.ProctorConfig
		ProctorEmails   []string
		DeliveryTimeout time.Duration
	}

	Service struct {
		repo      Repository
		publisher Publisher
		forwarder Forwarder
		metrics   Metrics
		mail      core.EmailService
		logger    core.Logger
		clock     integrity.Clock
		opts      Options
		proctors  []mail.Address

		mu       sync.RWMutex
		sessions map[string]*live
		wg       sync.WaitGroup
	}

	// live is a session with its monitor attached.
	live struct {
		mu      sync.Mutex
		sess    Session
		bridge  *remote.Bridge
		monitor *integrity.Monitor
		queue   *violationQueue
		done    chan struct{}
	}

	// IngestResult is returned to the shim after a batch of envelopes.
	IngestResult struct {
		Verdicts []remote.Verdict `json:"verdicts"`
		Commands []remote.Command `json:"commands"`
	}

	// Stream carries a session's violations and shim commands as they happen.
	// Commands is shared with Ingest: each command is delivered to the first reader.
	Stream struct {
		Violations <-chan integrity.Violation
		Commands   <-chan remote.Command
		Cancel     func()
	}
)

func NewService(deps Deps, opts Options) *Service {
	svc := &Service{
		repo:      deps.Repo,
		publisher: deps.Publisher,
		forwarder: deps.Forwarder,
		metrics:   deps.Metrics,
		mail:      deps.Mail,
		logger:    deps.Logger,
		clock:     deps.Clock,
		opts:      opts,
		sessions:  make(map[string]*live),
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = core.NewNopLogger()
	}
	if svc.clock == nil {
		svc.clock = integrity.SystemClock()
	}
	if svc.opts.DeliveryTimeout <= 0 {
		svc.opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	for _, email := range opts.ProctorEmails {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("session.NewService: invalid proctor email %q", email), err)
			continue
		}
		svc.proctors = append(svc.proctors, *addr)
	}
	return svc
}

// Start creates and activates a session for the student. It returns the commands the shim must run first.
func (svc *Service) Start(student Actor, userAgent string, ns NewSession) (Session, []remote.Command, error) {
	if !student.IsStudent() {
		return Session{}, nil, ErrForbidden
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, l := range svc.sessions {
		s := l.snapshot()
		if s.StudentID == student.ID && s.QuizID == ns.QuizID && s.Status == StatusActive {
			return Session{}, nil, ErrSessionExists
		}
	}

	grace := svc.opts.Proctor.GracePeriod
	if ns.GraceSeconds > 0 {
		grace = time.Duration(ns.GraceSeconds) * time.Second
	}
	if grace <= 0 {
		grace = integrity.DefaultGracePeriod
	}

	sess := Session{
		ID:           uuid.NewString(),
		QuizID:       ns.QuizID,
		StudentID:    student.ID,
		Student:      student.Username,
		Config:       ns.Config,
		Location:     ns.allowedLocation(),
		GraceSeconds: int(grace / time.Second),
		Capabilities: ns.Capabilities,
		UserAgent:    userAgent,
		Device:       ParseUserAgent(userAgent).String(),
		Status:       StatusActive,
		StartedAt:    svc.clock.Now().UTC(),
	}

	bridge := remote.NewBridge(ns.Capabilities, 0)
	monitor := integrity.NewMonitor(bridge.Browser(svc.clock, userAgent), integrity.Options{
		SessionID:           sess.ID,
		Config:              sess.Config,
		Location:            sess.Location,
		GracePeriod:         grace,
		LocationMaxAge:      svc.opts.Proctor.LocationMaxAge,
		LocationTimeout:     svc.opts.Proctor.LocationTimeout,
		FlickerWindow:       svc.opts.Proctor.FlickerWindow,
		DeviceCheckInterval: svc.opts.Proctor.DeviceCheckInterval,
		FullscreenDelay:     svc.opts.Proctor.FullscreenDelay,
		RecentViolations:    svc.opts.Proctor.RecentViolations,
		Logger:              svc.logger,
		Notifier:            bridge,
	})

	l := &live{sess: sess, bridge: bridge, monitor: monitor, queue: newViolationQueue(), done: make(chan struct{})}
	monitor.Reporter().Listen(l.queue.push)
	monitor.Reporter().OnDrop(func(v integrity.Violation) {
		svc.metrics.DeliveryFailed(SinkSubscriber)
		svc.logger.Warn(fmt.Sprintf("session %s: stream subscriber too slow, dropped %s violation", v.SessionID, v.Type))
	})
	svc.wg.Add(1)
	go svc.consume(l)

	monitor.SetActive(true)
	svc.sessions[sess.ID] = l
	svc.metrics.SessionStarted()
	svc.logger.Info(fmt.Sprintf("session %s started for quiz %s on %s", sess.ID, sess.QuizID, sess.Device), student.Person())

	return sess, bridge.PendingCommands(), nil
}

func (svc *Service) lookup(id string, actor Actor) (*live, error) {
	svc.mu.RLock()
	l, ok := svc.sessions[id]
	svc.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !actor.IsStaff() && l.snapshot().StudentID != actor.ID {
		return nil, ErrForbidden
	}
	return l, nil
}

func (svc *Service) Get(id string, actor Actor) (Session, error) {
	l, err := svc.lookup(id, actor)
	if err != nil {
		return Session{}, err
	}
	return l.snapshot(), nil
}

// QueryAll returns the sessions visible to the actor, most recent first.
func (svc *Service) QueryAll(actor Actor) []Session {
	svc.mu.RLock()
	sessions := make([]Session, 0, len(svc.sessions))
	for _, l := range svc.sessions {
		s := l.snapshot()
		if actor.IsStaff() || s.StudentID == actor.ID {
			sessions = append(sessions, s)
		}
	}
	svc.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	return sessions
}

func (svc *Service) Status(id string, actor Actor) (SessionStatus, error) {
	l, err := svc.lookup(id, actor)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{Session: l.snapshot(), Monitor: l.monitor.Status()}, nil
}

// Recent returns the session's most recent violations, oldest first.
func (svc *Service) Recent(id string, actor Actor) ([]integrity.Violation, error) {
	l, err := svc.lookup(id, actor)
	if err != nil {
		return nil, err
	}
	return l.monitor.Reporter().Recent(), nil
}

// Ingest dispatches the envelopes in order. Only the session's student may send telemetry.
// The batch is validated first: if any envelope is invalid, none is applied.
func (svc *Service) Ingest(id string, student Actor, envs ...remote.Envelope) (IngestResult, error) {
	l, err := svc.lookup(id, student)
	if err != nil {
		return IngestResult{}, err
	}
	sess := l.snapshot()
	if sess.StudentID != student.ID {
		return IngestResult{}, ErrForbidden
	}
	if sess.Status != StatusActive {
		return IngestResult{}, ErrEnded
	}

	for i, env := range envs {
		if err := env.Validate(); err != nil {
			field := fmt.Sprintf("envelopes[%d]", i)
			return IngestResult{}, core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
		}
	}

	res := IngestResult{Verdicts: make([]remote.Verdict, 0)}
	for i, env := range envs {
		v, err := l.bridge.Dispatch(env)
		if err != nil {
			return res, errors.Wrapf(err, "envelopes[%d]", i)
		}
		if v != nil {
			res.Verdicts = append(res.Verdicts, *v)
		}
	}
	res.Commands = l.bridge.PendingCommands()
	if res.Commands == nil {
		res.Commands = make([]remote.Command, 0)
	}
	return res, nil
}

// Dispatch applies a single envelope, for streaming transports that read commands from the Stream.
func (svc *Service) Dispatch(id string, student Actor, env remote.Envelope) (*remote.Verdict, error) {
	l, err := svc.lookup(id, student)
	if err != nil {
		return nil, err
	}
	sess := l.snapshot()
	if sess.StudentID != student.ID {
		return nil, ErrForbidden
	}
	if sess.Status != StatusActive {
		return nil, ErrEnded
	}
	v, err := l.bridge.Dispatch(env)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: "envelope", Error: err.Error()})
	}
	return v, nil
}

func (svc *Service) Subscribe(id string, actor Actor) (Stream, error) {
	l, err := svc.lookup(id, actor)
	if err != nil {
		return Stream{}, err
	}
	if l.snapshot().Status != StatusActive {
		return Stream{}, ErrEnded
	}
	ch, cancel := l.monitor.Reporter().Subscribe(subscriptionBuffer)
	return Stream{Violations: ch, Commands: l.bridge.Commands(), Cancel: cancel}, nil
}

// End tears the session's monitor down and waits for its pending violations to be delivered.
func (svc *Service) End(ctx context.Context, id string, actor Actor) (Session, error) {
	l, err := svc.lookup(id, actor)
	if err != nil {
		return Session{}, err
	}
	sess, ok := svc.end(l)
	if !ok {
		return sess, ErrEnded
	}

	select {
	case <-l.done:
	case <-ctx.Done():
		return l.snapshot(), ctx.Err()
	}
	sess = l.snapshot()
	svc.logger.Info(fmt.Sprintf("session %s ended with %d violation(s)", sess.ID, sess.ViolationCount), actor.Person())
	return sess, nil
}

func (svc *Service) end(l *live) (Session, bool) {
	l.mu.Lock()
	if l.sess.Status == StatusEnded {
		l.mu.Unlock()
		return l.snapshot(), false
	}
	now := svc.clock.Now().UTC()
	l.sess.Status = StatusEnded
	l.sess.EndedAt = &now
	l.mu.Unlock()

	l.monitor.Close()
	l.queue.close()
	l.bridge.Close()
	sess := l.snapshot()
	svc.metrics.SessionEnded(now.Sub(sess.StartedAt))
	return sess, true
}

func (svc *Service) Violations(ctx context.Context, filter QueryFilter) ([]Record, error) {
	filter.Clean()
	return svc.repo.QueryViolations(ctx, filter)
}

// Purge deletes the violations recorded before the cutoff and forgets the sessions ended before it.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	n, err := svc.repo.DeleteViolationsBefore(ctx, before)
	if err != nil {
		return 0, errors.Wrap(err, "session.Purge")
	}

	svc.mu.Lock()
	for id, l := range svc.sessions {
		s := l.snapshot()
		if s.EndedAt != nil && s.EndedAt.Before(before) {
			delete(svc.sessions, id)
		}
	}
	svc.mu.Unlock()
	return n, nil
}

// Close ends every active session and waits for the pending deliveries.
func (svc *Service) Close() {
	svc.mu.RLock()
	ls := make([]*live, 0, len(svc.sessions))
	for _, l := range svc.sessions {
		ls = append(ls, l)
	}
	svc.mu.RUnlock()

	for _, l := range ls {
		svc.end(l)
	}
	svc.wg.Wait()
}

func (svc *Service) consume(l *live) {
	defer svc.wg.Done()
	defer close(l.done)
	for {
		batch, ok := l.queue.next()
		if !ok {
			return
		}
		for _, v := range batch {
			svc.record(l, v)
		}
	}
}

func (svc *Service) record(l *live, v integrity.Violation) {
	l.mu.Lock()
	l.sess.ViolationCount++
	sess := l.sess
	l.mu.Unlock()

	rec := Record{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		QuizID:      sess.QuizID,
		StudentID:   sess.StudentID,
		Type:        v.Type,
		Severity:    v.Severity,
		Description: v.Description,
		UserAgent:   v.UserAgent,
		Device:      sess.Device,
		CanContinue: v.CanContinue,
		Distance:    v.Distance,
		OccurredAt:  v.Timestamp,
		CreatedAt:   svc.clock.Now().UTC(),
	}
	svc.metrics.ViolationRecorded(v.Type, v.Severity)

	ctx, cancel := context.WithTimeout(context.Background(), svc.opts.DeliveryTimeout)
	defer cancel()

	if err := svc.repo.SaveViolation(ctx, rec); err != nil {
		svc.deliveryFailed(SinkStore, rec, err)
	}
	if svc.publisher != nil {
		if err := svc.publisher.Publish(ctx, rec); err != nil {
			svc.deliveryFailed(SinkBroker, rec, err)
		}
	}
	if svc.forwarder != nil {
		if err := svc.forwarder.Forward(ctx, v); err != nil {
			svc.deliveryFailed(SinkBackend, rec, err)
		}
	}
	if v.Severity == integrity.SeverityCritical {
		svc.alertProctors(rec)
	}
}

func (svc *Service) deliveryFailed(sink string, rec Record, err error) {
	svc.metrics.DeliveryFailed(sink)
	svc.logger.Error(
		fmt.Sprintf("session.record(%s): %s violation of session %s not delivered", sink, rec.Type, rec.SessionID),
		err,
		map[string]interface{}{"session_id": rec.SessionID, "violation_id": rec.ID},
	)
}

type alertData struct {
	Record
	Timestamp string
}

func (svc *Service) alertProctors(rec Record) {
	if svc.mail == nil || len(svc.proctors) == 0 {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:           svc.proctors,
		Subject:      fmt.Sprintf("Critical violation in quiz %s", rec.QuizID),
		TemplateName: "violation_alert",
		TemplateData: alertData{Record: rec, Timestamp: rec.OccurredAt.Format(time.RFC1123)},
	})
}

func (l *live) snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.sess
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()                                              {}
func (nopMetrics) SessionEnded(time.Duration)                                   {}
func (nopMetrics) ViolationRecorded(integrity.ViolationType, integrity.Severity) {}
func (nopMetrics) DeliveryFailed(string)                                        {}
