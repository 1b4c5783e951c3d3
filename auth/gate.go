// Package auth turns one-time access codes into single-use submission
// sessions.
package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "anonsend/errors"
	"anonsend/logging"
	"anonsend/models"
)

// DefaultTimeout bounds the lookup and mark pair for one Submit.
const DefaultTimeout = 5 * time.Second

// Denial reasons.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownOrUsed = "unknown_or_used"

	// ReasonInProgress denies a second Authenticate on a session that is
	// already presenting a code. No code is consumed.
	ReasonInProgress = "in_progress"
)

var codeShape = regexp.MustCompile(`^[A-Z0-9-]{4,64}$`)

// CodeStore is the persistence the gate needs. MarkUsed must flip a code from
// unused to used atomically: among concurrent callers for one code exactly one
// returns nil and the rest return an error matching errors.ErrNotFound.
type CodeStore interface {
	LookupUnused(ctx context.Context, code string) (*models.AccessCode, error)
	MarkUsed(ctx context.Context, code string) error
}

// EventRecorder receives journal entries. Failures are logged and ignored.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event models.Event) error
}

// Outcome is the result of presenting a code.
type Outcome int

const (
	Denied Outcome = iota
	Granted
)

func (o Outcome) String() string {
	if o == Granted {
		return "granted"
	}
	return "denied"
}

// Decision is what Submit returns for every expected outcome. Only
// persistence failures come back as errors.
type Decision struct {
	Outcome Outcome
	// Reason is set when Outcome is Denied.
	Reason string
	// GrantID identifies the grant in logs. It is unrelated to the code.
	GrantID string
}

func (d Decision) Granted() bool { return d.Outcome == Granted }

// NormalizeCode trims surrounding space, upper-cases and checks the shape of a
// presented code.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", apperrors.NewValidationError("code", "is required")
	}
	if !codeShape.MatchString(code) {
		return "", apperrors.NewValidationError("code", "has an invalid shape")
	}
	return code, nil
}

// Gate validates and consumes access codes.
type Gate struct {
	store   CodeStore
	timeout time.Duration
	logger  *logging.Logger
	events  EventRecorder
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout bounds each Submit. Values <= 0 keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the gate's logger. Codes are only ever logged as tags.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger.WithComponent("auth")
		}
	}
}

// WithEventRecorder journals every grant and denial to events.
func WithEventRecorder(events EventRecorder) Option {
	return func(g *Gate) { g.events = events }
}

// NewGate returns a gate over store with DefaultTimeout and no logging or
// journal unless opts say otherwise.
func NewGate(store CodeStore, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		timeout: DefaultTimeout,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit consumes code if it exists and is unused. Malformed, unknown and
// already-used codes are denials, not errors. A store failure or timeout is
// returned as an error matching errors.ErrStore.
func (g *Gate) Submit(ctx context.Context, raw string) (Decision, error) {
	code, err := NormalizeCode(raw)
	if err != nil {
		g.logger.Info("code rejected", "reason", ReasonMalformed)
		g.record(ctx, models.EventAuthDenied, "", ReasonMalformed, models.SeverityInfo)
		return Decision{Outcome: Denied, Reason: ReasonMalformed}, nil
	}
	tag := models.CodeTag(code)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.store.LookupUnused(callCtx, code); err != nil {
		return g.deny(ctx, tag, err)
	}
	// LookupUnused is only a fast path; MarkUsed decides races.
	if err := g.store.MarkUsed(callCtx, code); err != nil {
		return g.deny(ctx, tag, err)
	}

	grantID := uuid.NewString()
	g.logger.Info("code accepted", "code_tag", tag, "grant_id", grantID)
	g.record(ctx, models.EventAuthGranted, "code:"+tag, "", models.SeverityInfo)
	return Decision{Outcome: Granted, GrantID: grantID}, nil
}

func (g *Gate) deny(ctx context.Context, tag string, err error) (Decision, error) {
	if apperrors.Is(err, apperrors.ErrNotFound) {
		g.logger.Info("code rejected", "code_tag", tag, "reason", ReasonUnknownOrUsed)
		g.record(ctx, models.EventAuthDenied, "code:"+tag, ReasonUnknownOrUsed, models.SeverityWarning)
		return Decision{Outcome: Denied, Reason: ReasonUnknownOrUsed}, nil
	}
	g.logger.Error("code check failed", "code_tag", tag, "error", err)
	return Decision{}, apperrors.Store("auth submit", err)
}

func (g *Gate) record(ctx context.Context, eventType, subject, reason, severity string) {
	if g.events == nil {
		return
	}
	var details map[string]any
	if reason != "" {
		details = map[string]any{"reason": reason}
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	if err := g.events.RecordEvent(recCtx, models.Event{
		Type:     eventType,
		Subject:  subject,
		Details:  details,
		Severity: severity,
	}); err != nil {
		g.logger.Warn("record event failed", "event_type", eventType, "error", err)
	}
}
