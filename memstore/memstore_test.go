package memstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "anonsend/errors"
	"anonsend/models"
)

func TestCodeLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	if added := store.SeedCodes("123456", "123456", ""); added != 1 {
		t.Fatalf("expected 1 seeded code, got %d", added)
	}
	if _, err := store.LookupUnused(ctx, "123456"); err != nil {
		t.Fatalf("LookupUnused failed: %v", err)
	}
	if err := store.MarkUsed(ctx, "123456"); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, err := store.LookupUnused(ctx, "123456"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found after use, got %v", err)
	}
	if err := store.MarkUsed(ctx, "123456"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected second MarkUsed to fail, got %v", err)
	}

	store.SeedCodes("123456")
	if _, err := store.LookupUnused(ctx, "123456"); err == nil {
		t.Fatalf("re-seeding must not revert a used code")
	}
}

func TestConcurrentMarkUsedSingleWinner(t *testing.T) {
	store := New()
	store.SeedCodes("RACE01")

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			err := store.MarkUsed(context.Background(), "RACE01")
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

func TestMessageQueueOrderingAndIdempotence(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.InsertMessage(ctx, models.StoredMessage{Recipient: "a@b.com", Ciphertext: []byte{1}})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	second, err := store.InsertMessage(ctx, models.StoredMessage{Recipient: "c@d.com", Ciphertext: []byte{2}})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}

	stamp := time.Now().Add(-time.Hour)
	if err := store.MarkMessageResult(ctx, first, true, stamp); err != nil {
		t.Fatalf("MarkMessageResult failed: %v", err)
	}
	if err := store.MarkMessageResult(ctx, first, true, time.Now()); err != nil {
		t.Fatalf("repeat MarkMessageResult failed: %v", err)
	}
	store.mu.Lock()
	sentAt := store.messages[first].SentAt
	store.mu.Unlock()
	if sentAt == nil || !sentAt.Equal(stamp) {
		t.Fatalf("expected first stamp kept, got %v", sentAt)
	}

	unsent, err := store.ListUnsent(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListUnsent failed: %v", err)
	}
	if len(unsent) != 1 || unsent[0].ID != second {
		t.Fatalf("expected only the second message, got %+v", unsent)
	}

	if err := store.MarkMessageResult(ctx, 99, false, time.Now()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestListUnsentAfterCursor(t *testing.T) {
	store := New()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.InsertMessage(ctx, models.StoredMessage{Recipient: "a@b.com", Ciphertext: []byte{byte(i + 1)}})
		if err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
		ids = append(ids, id)
	}

	page, err := store.ListUnsent(ctx, ids[0], 1)
	if err != nil {
		t.Fatalf("ListUnsent failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Fatalf("expected the message after the cursor, got %+v", page)
	}
	page, err = store.ListUnsent(ctx, ids[2], 10)
	if err != nil {
		t.Fatalf("ListUnsent past the end failed: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected nothing past the newest id, got %+v", page)
	}
}

func TestGetEventsFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	for _, ev := range []models.Event{
		{Type: models.EventAuthDenied, Severity: models.SeverityWarning, Timestamp: now.Add(-time.Hour)},
		{Type: models.EventDecryptFailed, Severity: models.SeverityCritical, Subject: "message:4", Timestamp: now.Add(-time.Minute)},
		{Type: models.EventDeliverySent, Severity: models.SeverityInfo, Timestamp: now},
	} {
		if err := store.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	all, err := store.GetEvents(ctx, models.EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(all) != 3 || all[0].Type != models.EventDeliverySent {
		t.Fatalf("expected all events newest first, got %+v", all)
	}

	critical, err := store.GetEvents(ctx, models.EventFilter{Severity: models.SeverityCritical, Since: now.Add(-10 * time.Minute)})
	if err != nil {
		t.Fatalf("GetEvents critical failed: %v", err)
	}
	if len(critical) != 1 || critical[0].Subject != "message:4" {
		t.Fatalf("unexpected critical events: %+v", critical)
	}

	limited, err := store.GetEvents(ctx, models.EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("GetEvents limited failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events, got %d", len(limited))
	}

	if _, err := store.GetEvents(ctx, models.EventFilter{Severity: "loud"}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRedeemTOTPStepOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	ok, err := store.RedeemTOTPStep(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("expected first redemption, got %v %v", ok, err)
	}
	ok, err = store.RedeemTOTPStep(ctx, 7)
	if err != nil || ok {
		t.Fatalf("expected second redemption refused, got %v %v", ok, err)
	}
}
