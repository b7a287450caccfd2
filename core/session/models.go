package session

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/integrity/remote"
)

// Roles
const (
	RoleAdmin   = "admin:"
	RoleTeacher = "teacher:"
	RoleStudent = "student:"
)

// Actor is the authenticated user calling the service.
type Actor struct {
	ID       string
	Username string
	Email    string
	Roles    []string
}

func (a Actor) roleStartsWith(prefix string) bool {
	for _, role := range a.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool   { return a.roleStartsWith(RoleAdmin) }
func (a Actor) IsTeacher() bool { return a.roleStartsWith(RoleTeacher) }
func (a Actor) IsStudent() bool { return a.roleStartsWith(RoleStudent) }

// IsStaff reports whether the actor may read and end any session.
func (a Actor) IsStaff() bool { return a.IsAdmin() || a.IsTeacher() }

func (a Actor) Person() core.Person {
	return core.Person{ID: a.ID, Username: a.Username, Email: a.Email}
}

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one monitored quiz attempt.
type Session struct {
	ID             string                     `json:"id"`
	QuizID         string                     `json:"quiz_id"`
	StudentID      string                     `json:"student_id"`
	Student        string                     `json:"student"`
	Config         integrity.SecurityConfig   `json:"security_config"`
	Location       *integrity.AllowedLocation `json:"allowed_location,omitempty"`
	GraceSeconds   int                        `json:"grace_period_seconds"`
	Capabilities   remote.Capabilities        `json:"capabilities"`
	UserAgent      string                     `json:"user_agent"`
	Device         string                     `json:"device"`
	Status         Status                     `json:"status"`
	StartedAt      time.Time                  `json:"started_at"` // UTC
	EndedAt        *time.Time                 `json:"ended_at,omitempty"`
	ViolationCount int                        `json:"violation_count"`
}

// NewLocation is the geofence part of NewSession.
type NewLocation struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Radius    float64  `json:"radius" validate:"gt=0"`
}

// NewSession contains information needed to start a Session.
type NewSession struct {
	QuizID       string                   `json:"quiz_id" validate:"required,slug"`
	Config       integrity.SecurityConfig `json:"security_config"`
	Location     *NewLocation             `json:"allowed_location" validate:"omitempty"`
	GraceSeconds int                      `json:"grace_period_seconds" validate:"omitempty,min=10,max=600"`
	Capabilities remote.Capabilities      `json:"capabilities"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.QuizID = core.CleanString(ns.QuizID)
	return validate.Struct(ns)
}

func (ns NewSession) allowedLocation() *integrity.AllowedLocation {
	if ns.Location == nil {
		return nil
	}
	return &integrity.AllowedLocation{
		Latitude:  *ns.Location.Latitude,
		Longitude: *ns.Location.Longitude,
		Radius:    ns.Location.Radius,
	}
}

// SessionStatus is the live view of a Session.
type SessionStatus struct {
	Session
	Monitor integrity.Status `json:"monitor"`
}

// Record is a persisted violation.
type Record struct {
	ID          string                  `json:"id"`
	SessionID   string                  `json:"session_id"`
	QuizID      string                  `json:"quiz_id"`
	StudentID   string                  `json:"student_id"`
	Type        integrity.ViolationType `json:"violation_type"`
	Severity    integrity.Severity      `json:"severity"`
	Description string                  `json:"description"`
	UserAgent   string                  `json:"user_agent"`
	Device      string                  `json:"device"`
	CanContinue *bool                   `json:"can_continue,omitempty"`
	Distance    *float64                `json:"distance_meters,omitempty"`
	OccurredAt  time.Time               `json:"timestamp"`  // UTC
	CreatedAt   time.Time               `json:"created_at"` // UTC
}

// Violation returns the report sent to the grading backend.
func (r Record) Violation() integrity.Violation {
	return integrity.Violation{
		Type:        r.Type,
		Description: r.Description,
		Severity:    r.Severity,
		Timestamp:   r.OccurredAt,
		UserAgent:   r.UserAgent,
		SessionID:   r.SessionID,
		CanContinue: r.CanContinue,
		Distance:    r.Distance,
	}
}

// QueryFilter selects persisted violations. Zero fields match everything.
type QueryFilter struct {
	SessionID  string
	StudentID  string
	QuizID     string
	Types      []integrity.ViolationType
	Severities []integrity.Severity
	From       time.Time
	To         time.Time
	Limit      int
}

const (
	// DefaultQueryLimit caps filtered queries without an explicit limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit is the largest page a query may ask for.
	MaxQueryLimit = 1000
)

func (f *QueryFilter) Clean() {
	f.SessionID = core.CleanString(f.SessionID)
	f.StudentID = core.CleanString(f.StudentID)
	f.QuizID = core.CleanString(f.QuizID)

	types := f.Types[:0]
	for _, t := range f.Types {
		if t.Valid() {
			types = append(types, t)
		}
	}
	f.Types = types

	sevs := f.Severities[:0]
	for _, s := range f.Severities {
		if s.Valid() {
			sevs = append(sevs, s)
		}
	}
	f.Severities = sevs

	if !f.From.IsZero() {
		f.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		f.To = f.To.UTC()
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		f.Limit = MaxQueryLimit
	}
}

// Match reports whether r satisfies every set field of the filter.
func (f QueryFilter) Match(r Record) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	if f.QuizID != "" && r.QuizID != f.QuizID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, r.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, r.Severity) {
		return false
	}
	if !f.From.IsZero() && r.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.OccurredAt.After(f.To) {
		return false
	}
	return true
}

func containsType(types []integrity.ViolationType, t integrity.ViolationType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsSeverity(sevs []integrity.Severity, s integrity.Severity) bool {
	for _, v := range sevs {
		if v == s {
			return true
		}
	}
	return false
}
