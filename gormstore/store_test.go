package gormstore

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "anonsend/errors"
	"anonsend/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "gorm.db")) + "?_busy_timeout=5000&_journal_mode=WAL"
	store, err := Open(DialectSQLite, dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func TestCodeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.InsertCodes(ctx, []string{"ABC123", "DEF456", "ABC123"}, "bulk")
	if err != nil {
		t.Fatalf("InsertCodes failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted codes, got %d", inserted)
	}

	if _, err := store.LookupUnused(ctx, "ABC123"); err != nil {
		t.Fatalf("LookupUnused failed: %v", err)
	}
	if err := store.MarkUsed(ctx, "ABC123"); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, err := store.LookupUnused(ctx, "ABC123"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found after use, got %v", err)
	}
	if err := store.MarkUsed(ctx, "ABC123"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected second MarkUsed to fail, got %v", err)
	}
	if err := store.MarkUsed(ctx, "NOPE00"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected unknown code to fail, got %v", err)
	}
}

func TestConcurrentMarkUsedSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.InsertCodes(ctx, []string{"RACE77"}, "bulk"); err != nil {
		t.Fatalf("InsertCodes failed: %v", err)
	}

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			err := store.MarkUsed(ctx, "RACE77")
			if err == nil {
				wins.Add(1)
				return nil
			}
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMessageQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.InsertMessage(ctx, models.StoredMessage{Recipient: "a@b.com", Subject: "Hi", Ciphertext: []byte{1, 2}})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	second, err := store.InsertMessage(ctx, models.StoredMessage{Recipient: "c@d.com", Ciphertext: []byte{3}})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}

	unsent, err := store.ListUnsent(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListUnsent failed: %v", err)
	}
	if len(unsent) != 2 || unsent[0].ID != first || string(unsent[0].Ciphertext) != string([]byte{1, 2}) {
		t.Fatalf("unexpected unsent list: %+v", unsent)
	}
	after, err := store.ListUnsent(ctx, first, 10)
	if err != nil {
		t.Fatalf("ListUnsent after cursor failed: %v", err)
	}
	if len(after) != 1 || after[0].ID != second {
		t.Fatalf("expected only messages past the cursor, got %+v", after)
	}

	stamp := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	if err := store.MarkMessageResult(ctx, first, true, stamp); err != nil {
		t.Fatalf("MarkMessageResult failed: %v", err)
	}
	if err := store.MarkMessageResult(ctx, first, true, time.Now()); err != nil {
		t.Fatalf("repeat MarkMessageResult failed: %v", err)
	}
	var got messageRow
	if err := store.db.Take(&got, first).Error; err != nil {
		t.Fatalf("load message failed: %v", err)
	}
	if !got.Sent || got.SentAt == nil || !got.SentAt.Equal(stamp) {
		t.Fatalf("expected first sent_at kept, got %+v", got)
	}

	if err := store.MarkMessageResult(ctx, second, false, time.Now()); err != nil {
		t.Fatalf("MarkMessageResult false failed: %v", err)
	}
	if err := store.MarkMessageResult(ctx, 999, true, time.Now()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	depth, err := store.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestTOTPStepsAndEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	won, err := store.RedeemTOTPStep(ctx, 42)
	if err != nil || !won {
		t.Fatalf("expected first redemption, got %v %v", won, err)
	}
	won, err = store.RedeemTOTPStep(ctx, 42)
	if err != nil || won {
		t.Fatalf("expected second redemption refused, got %v %v", won, err)
	}
	seen, err := store.HasRedeemedTOTPStep(ctx, 42)
	if err != nil || !seen {
		t.Fatalf("expected step 42 redeemed, got %v %v", seen, err)
	}

	store.SetEventRetention(time.Hour)
	if err := store.RecordEvent(ctx, models.Event{Type: "old", Timestamp: time.Now().Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("RecordEvent old failed: %v", err)
	}
	if err := store.RecordEvent(ctx, models.Event{
		Type:     models.EventAuthDenied,
		Subject:  "code:deadbeef",
		Details:  map[string]any{"reason": "unknown_or_used"},
		Severity: models.SeverityWarning,
	}); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	if err := store.RecordEvent(ctx, models.Event{
		Type:     models.EventDecryptFailed,
		Subject:  "message:3",
		Severity: models.SeverityCritical,
	}); err != nil {
		t.Fatalf("RecordEvent critical failed: %v", err)
	}

	events, err := store.GetEvents(ctx, models.EventFilter{Type: models.EventAuthDenied, Limit: 10})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventAuthDenied || events[0].Details["reason"] != "unknown_or_used" {
		t.Fatalf("unexpected events: %+v", events)
	}

	critical, err := store.GetEvents(ctx, models.EventFilter{
		Severity: models.SeverityCritical,
		Since:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("GetEvents critical failed: %v", err)
	}
	if len(critical) != 1 || critical[0].Subject != "message:3" {
		t.Fatalf("unexpected critical events: %+v", critical)
	}

	if _, err := store.GetEvents(ctx, models.EventFilter{Severity: "loud"}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for unknown severity, got %v", err)
	}
}
