// Package memstore is an in-process implementation of the code store, the
// message queue backend and the event journal. Nothing survives a restart;
// it backs tests and dry runs.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// Store guards every map with one mutex, which makes MarkUsed and
// RedeemTOTPStep single compare-and-swap steps.
type Store struct {
	mu       sync.Mutex
	codes    map[string]*models.AccessCode
	messages map[int64]*models.StoredMessage
	lastID   int64
	events   []models.Event
	steps    map[int64]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		codes:    make(map[string]*models.AccessCode),
		messages: make(map[int64]*models.StoredMessage),
		steps:    make(map[int64]time.Time),
	}
}

// SeedCodes adds unused codes. Existing codes keep their state.
func (s *Store) SeedCodes(codes ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	now := time.Now()
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := s.codes[code]; ok {
			continue
		}
		s.codes[code] = &models.AccessCode{Value: code, CreatedAt: now}
		added++
	}
	return added
}

// LookupUnused returns a copy of code if it exists and is unused.
func (s *Store) LookupUnused(ctx context.Context, code string) (*models.AccessCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Store("lookup code", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok || ac.Used {
		return nil, apperrors.NewNotFoundError("access code", models.CodeTag(code))
	}
	copied := *ac
	return &copied, nil
}

// MarkUsed flips code to used. Only the first caller for a code succeeds; the
// rest get a not-found error.
func (s *Store) MarkUsed(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Store("mark used", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok || ac.Used {
		return apperrors.NewNotFoundError("access code", models.CodeTag(code))
	}
	now := time.Now()
	ac.Used = true
	ac.UsedAt = &now
	return nil
}

// InsertMessage assigns the next id. Ids are never reused within the life of
// the Store, including after a message is marked sent.
func (s *Store) InsertMessage(ctx context.Context, message models.StoredMessage) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Store("insert message", err)
	}
	if message.Recipient == "" {
		return 0, apperrors.NewValidationError("recipient", "is required")
	}
	if len(message.Ciphertext) == 0 {
		return 0, apperrors.NewValidationError("ciphertext", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	message.ID = s.lastID
	message.Sent = false
	message.SentAt = nil
	message.Ciphertext = append([]byte(nil), message.Ciphertext...)
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.messages[message.ID] = &message
	return message.ID, nil
}

// ListUnsent returns up to limit unsent messages with an id above afterID,
// oldest first.
func (s *Store) ListUnsent(ctx context.Context, afterID int64, limit int) ([]models.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Store("list unsent", err)
	}
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.messages))
	for id, m := range s.messages {
		if !m.Sent && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]models.StoredMessage, 0, len(ids))
	for _, id := range ids {
		m := *s.messages[id]
		m.Ciphertext = append([]byte(nil), m.Ciphertext...)
		out = append(out, m)
	}
	return out, nil
}

// MarkMessageResult stamps the first successful send. A failed send only
// checks that id exists.
func (s *Store) MarkMessageResult(ctx context.Context, id int64, sent bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Store("mark result", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10))
	}
	if !sent || m.Sent {
		return nil
	}
	m.Sent = true
	m.SentAt = &at
	return nil
}

// QueueDepth counts unsent messages.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := 0
	for _, m := range s.messages {
		if !m.Sent {
			depth++
		}
	}
	return depth, nil
}

// RecordEvent appends to the journal. Nothing is pruned.
func (s *Store) RecordEvent(ctx context.Context, event models.Event) error {
	if event.Type == "" {
		return apperrors.NewValidationError("event_type", "is required")
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return nil
}

// GetEvents returns events matching filter, newest first.
func (s *Store) GetEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Store("get events", err)
	}
	if filter.Severity != "" && !models.ValidSeverity(filter.Severity) {
		return nil, apperrors.NewValidationError("severity", "unknown severity "+strconv.Quote(filter.Severity))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	out := make([]models.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// RedeemTOTPStep reports true only for the first caller per step.
func (s *Store) RedeemTOTPStep(ctx context.Context, step int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Store("redeem totp step", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[step]; ok {
		return false, nil
	}
	s.steps[step] = time.Now()
	return true, nil
}

// HasRedeemedTOTPStep reports whether step was already redeemed.
func (s *Store) HasRedeemedTOTPStep(ctx context.Context, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.steps[step]
	return ok, nil
}

// PruneTOTPSteps forgets redeemed steps older than beforeStep.
func (s *Store) PruneTOTPSteps(ctx context.Context, beforeStep int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for step := range s.steps {
		if step < beforeStep {
			delete(s.steps, step)
			pruned++
		}
	}
	return pruned, nil
}

// InsertCodes adapts SeedCodes to the persistent stores' signature.
func (s *Store) InsertCodes(ctx context.Context, codes []string, source string) (int, error) {
	for _, code := range codes {
		if code == "" {
			return 0, apperrors.NewValidationError("code", "is required")
		}
	}
	return s.SeedCodes(codes...), nil
}

// CodeStats counts all codes and the unused ones.
func (s *Store) CodeStats(ctx context.Context) (models.CodeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.CodeStats{Total: len(s.codes)}
	for _, ac := range s.codes {
		if !ac.Used {
			stats.Unused++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
