// Package queue is the encrypted, at-most-once message queue between the
// submission path and the delivery worker. Plaintext exists only in memory;
// the backend stores ciphertext.
package queue

import (
	"context"
	"strings"
	"time"

	apperrors "anonsend/errors"
	"anonsend/logging"
	"anonsend/models"
)

const (
	// DefaultTimeout bounds every backend call.
	DefaultTimeout = 5 * time.Second
	// MaxSubjectLength caps the subject line in runes.
	MaxSubjectLength = 255
)

// Backend persists queued messages. InsertMessage must hand out ids larger
// than any id it ever returned, and must leave no row behind when it fails.
type Backend interface {
	InsertMessage(ctx context.Context, message models.StoredMessage) (int64, error)
	ListUnsent(ctx context.Context, afterID int64, limit int) ([]models.StoredMessage, error)
	MarkMessageResult(ctx context.Context, id int64, sent bool, at time.Time) error
}

// Codec seals and opens message bodies.
type Codec interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Item is one entry of a batch. Err is a *errors.DecryptError when the
// stored ciphertext could not be opened; Message then carries everything
// except Content.
type Item struct {
	Message models.Message
	Err     error
}

type Queue struct {
	backend Backend
	codec   Codec
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// New builds a Queue. timeout <= 0 selects DefaultTimeout; logger may be nil.
func New(backend Backend, codec Codec, timeout time.Duration, logger *logging.Logger) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Queue{
		backend: backend,
		codec:   codec,
		timeout: timeout,
		logger:  logger.WithComponent("queue"),
		now:     time.Now,
	}
}

// ValidateRecipient checks that recipient is present and a single line.
// Address syntax is left to the submission path and the transport.
func ValidateRecipient(recipient string) error {
	if recipient == "" {
		return apperrors.NewValidationError("recipient", "is required")
	}
	if strings.ContainsAny(recipient, "\r\n") {
		return apperrors.NewValidationError("recipient", "must be a single line")
	}
	return nil
}

// ValidateSubject rejects subjects that could inject headers or are too long.
func ValidateSubject(subject string) error {
	if strings.ContainsAny(subject, "\r\n") {
		return apperrors.NewValidationError("subject", "must be a single line")
	}
	if len([]rune(subject)) > MaxSubjectLength {
		return apperrors.NewValidationError("subject", "is too long")
	}
	return nil
}

// Enqueue encrypts plaintext and persists it unsent, returning the new id.
func (q *Queue) Enqueue(ctx context.Context, recipient, subject, plaintext string) (int64, error) {
	recipient = strings.TrimSpace(recipient)
	if err := ValidateRecipient(recipient); err != nil {
		return 0, err
	}
	if err := ValidateSubject(subject); err != nil {
		return 0, err
	}

	ciphertext, err := q.codec.Encrypt(plaintext)
	if err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	id, err := q.backend.InsertMessage(callCtx, models.StoredMessage{
		Recipient:  recipient,
		Subject:    subject,
		Ciphertext: ciphertext,
		CreatedAt:  q.now(),
	})
	if err != nil {
		q.logger.Error("enqueue failed", "error", err)
		return 0, apperrors.Store("enqueue", err)
	}

	q.logger.Info("message queued", "message_id", id, "bytes", len(ciphertext))
	return id, nil
}

// NextBatch returns up to limit unsent messages in ascending id order with
// their bodies decrypted. A message that fails to decrypt is still returned,
// with Item.Err set, so the rest of the batch is unaffected.
func (q *Queue) NextBatch(ctx context.Context, limit int) ([]Item, error) {
	return q.NextBatchAfter(ctx, 0, limit)
}

// NextBatchAfter is NextBatch restricted to ids above afterID, for callers
// paging past messages they have already seen in this pass.
func (q *Queue) NextBatchAfter(ctx context.Context, afterID int64, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive")
	}

	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	stored, err := q.backend.ListUnsent(callCtx, afterID, limit)
	if err != nil {
		return nil, apperrors.Store("next batch", err)
	}

	items := make([]Item, 0, len(stored))
	for _, s := range stored {
		item := Item{Message: models.Message{
			ID:        s.ID,
			Recipient: s.Recipient,
			Subject:   s.Subject,
			Sent:      s.Sent,
			SentAt:    s.SentAt,
			CreatedAt: s.CreatedAt,
		}}

		content, err := q.codec.Decrypt(s.Ciphertext)
		if err != nil {
			item.Err = withMessageID(err, s.ID)
			q.logger.Warn("message undecryptable", "message_id", s.ID)
		} else {
			item.Message.Content = content
		}
		items = append(items, item)
	}
	return items, nil
}

// MarkResult records a delivery outcome. sent=true is idempotent and keeps the
// first timestamp; sent=false leaves the message queued. Unknown ids return an
// error matching errors.ErrNotFound.
func (q *Queue) MarkResult(ctx context.Context, id int64, sent bool) error {
	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.backend.MarkMessageResult(callCtx, id, sent, q.now()); err != nil {
		return apperrors.Store("mark result", err)
	}
	return nil
}

func withMessageID(err error, id int64) error {
	var decryptErr *apperrors.DecryptError
	if apperrors.As(err, &decryptErr) {
		return apperrors.NewDecryptError(id, decryptErr.Err)
	}
	return apperrors.NewDecryptError(id, err)
}
