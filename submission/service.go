// Package submission validates, screens and queues one message per granted
// session.
package submission

import (
	"context"
	"net/mail"
	"strings"
	"time"

	apperrors "anonsend/errors"
	"anonsend/logging"
	"anonsend/models"
	"anonsend/moderation"
	"anonsend/queue"
)

// Rejection reasons.
const (
	ReasonInvalidInput    = "invalid-input"
	ReasonFlaggedContent  = "flagged-content"
	ReasonUnauthenticated = "unauthenticated"
)

// MaxContentLength caps the message body in bytes.
const MaxContentLength = 64 * 1024

// Draft is what a user submits.
type Draft struct {
	Recipient string
	Subject   string
	Content   string
}

// Outcome is Queued with MessageID set, or rejected with Reason set.
type Outcome struct {
	Queued    bool
	MessageID int64
	Reason    string
	// Detail explains an invalid-input rejection. It never echoes content.
	Detail string
}

// Enqueuer is the part of the queue the service writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, recipient, subject, plaintext string) (int64, error)
}

// EventRecorder receives journal entries. Failures are logged and ignored.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event models.Event) error
}

// Authorizer hands out the single send a session is allowed. auth.Session
// implements it.
type Authorizer interface {
	Acquire() (done func(queued bool), ok bool)
}

type Service struct {
	queue     Enqueuer
	moderator moderation.Checker
	logger    *logging.Logger
	events    EventRecorder
	timeout   time.Duration
}

// NewService wires the service. events may be nil.
func NewService(q Enqueuer, moderator moderation.Checker, logger *logging.Logger, events EventRecorder) *Service {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Service{
		queue:     q,
		moderator: moderator,
		logger:    logger.WithComponent("submission"),
		events:    events,
		timeout:   queue.DefaultTimeout,
	}
}

// Submit runs validation, moderation and enqueue in that order and stops at
// the first rejection. Only a queued outcome writes anything. Errors are
// reserved for store failures.
func (s *Service) Submit(ctx context.Context, draft Draft) (Outcome, error) {
	draft.Recipient = strings.TrimSpace(draft.Recipient)
	draft.Subject = strings.TrimSpace(draft.Subject)

	if err := validate(draft); err != nil {
		detail := err.Error()
		s.logger.Info("submission rejected", "reason", ReasonInvalidInput, "detail", detail)
		return Outcome{Reason: ReasonInvalidInput, Detail: detail}, nil
	}

	flagged, err := s.moderator.Check(ctx, draft.Content)
	if err != nil {
		s.logger.Warn("moderation failed, rejecting", "error", err)
		flagged = true
	}
	if flagged {
		s.logger.Info("submission rejected", "reason", ReasonFlaggedContent)
		s.record(ctx, models.Event{
			Type:     models.EventContentRejected,
			Severity: models.SeverityWarning,
			Details:  map[string]any{"moderation_error": err != nil},
		})
		return Outcome{Reason: ReasonFlaggedContent}, nil
	}

	id, err := s.queue.Enqueue(ctx, draft.Recipient, draft.Subject, draft.Content)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrValidation) {
			return Outcome{Reason: ReasonInvalidInput, Detail: err.Error()}, nil
		}
		s.logger.Error("enqueue failed", "error", err)
		return Outcome{}, err
	}

	s.logger.Info("submission queued", "message_id", id)
	s.record(ctx, models.Event{
		Type:     models.EventMessageQueued,
		Severity: models.SeverityInfo,
	})
	return Outcome{Queued: true, MessageID: id}, nil
}

// SubmitAs submits on behalf of a session. A queued outcome consumes the
// session's send; any rejection or error leaves it available.
func (s *Service) SubmitAs(ctx context.Context, session Authorizer, draft Draft) (Outcome, error) {
	done, ok := session.Acquire()
	if !ok {
		return Outcome{Reason: ReasonUnauthenticated}, nil
	}

	outcome, err := s.Submit(ctx, draft)
	done(err == nil && outcome.Queued)
	return outcome, err
}

func validate(d Draft) error {
	if d.Recipient == "" {
		return apperrors.NewValidationError("recipient", "is required")
	}
	addr, err := mail.ParseAddress(d.Recipient)
	if err != nil || addr.Name != "" || addr.Address != d.Recipient {
		return apperrors.NewValidationError("recipient", "must be a plain email address")
	}
	if err := queue.ValidateSubject(d.Subject); err != nil {
		return err
	}
	if strings.TrimSpace(d.Content) == "" {
		return apperrors.NewValidationError("content", "is required")
	}
	if len(d.Content) > MaxContentLength {
		return apperrors.NewValidationError("content", "is too long")
	}
	return nil
}

func (s *Service) record(ctx context.Context, event models.Event) {
	if s.events == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.events.RecordEvent(recCtx, event); err != nil {
		s.logger.Warn("record event failed", "event_type", event.Type, "error", err)
	}
}
