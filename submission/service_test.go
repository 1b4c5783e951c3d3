package submission

import (
	"context"
	"errors"
	"testing"

	"anonsend/auth"
	"anonsend/crypto"
	apperrors "anonsend/errors"
	"anonsend/memstore"
	"anonsend/models"
	"anonsend/moderation"
	"anonsend/queue"
)

type fixture struct {
	store   *memstore.Store
	queue   *queue.Queue
	service *Service
}

func newFixture(t *testing.T, checker moderation.Checker) fixture {
	t.Helper()
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	store := memstore.New()
	q := queue.New(store, codec, 0, nil)
	return fixture{store: store, queue: q, service: NewService(q, checker, nil, store)}
}

func (f fixture) depth(t *testing.T) int {
	t.Helper()
	depth, err := f.store.QueueDepth(context.Background())
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	return depth
}

func defaultKeywords() moderation.Checker {
	return moderation.NewKeywords([]string{"hate", "violence", "threat", "kill", "abuse", "harm", "hurt"})
}

func TestFlaggedContentIsRejectedAndNothingQueued(t *testing.T) {
	f := newFixture(t, defaultKeywords())

	outcome, err := f.service.Submit(context.Background(), Draft{Recipient: "a@b.com", Subject: "hi", Content: "I will hurt you"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if outcome.Queued || outcome.Reason != ReasonFlaggedContent {
		t.Fatalf("expected flagged-content rejection, got %+v", outcome)
	}
	if f.depth(t) != 0 {
		t.Fatalf("queue must stay empty")
	}

	events, err := f.store.GetEvents(context.Background(), models.EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventContentRejected {
		t.Fatalf("expected a content_rejected event, got %+v", events)
	}
}

func TestCleanSubmissionIsQueued(t *testing.T) {
	f := newFixture(t, defaultKeywords())
	ctx := context.Background()

	outcome, err := f.service.Submit(ctx, Draft{Recipient: " a@b.com ", Subject: "hi", Content: "thank you"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !outcome.Queued || outcome.MessageID == 0 {
		t.Fatalf("expected queued outcome, got %+v", outcome)
	}

	batch, err := f.queue.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if len(batch) != 1 || batch[0].Message.Content != "thank you" || batch[0].Message.Recipient != "a@b.com" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestInvalidInputShortCircuitsModeration(t *testing.T) {
	called := false
	checker := moderation.CheckerFunc(func(ctx context.Context, text string) (bool, error) {
		called = true
		return false, nil
	})
	f := newFixture(t, checker)

	cases := []Draft{
		{Recipient: "", Subject: "s", Content: "c"},
		{Recipient: "not an address", Subject: "s", Content: "c"},
		{Recipient: "Bob <bob@example.com>", Subject: "s", Content: "c"},
		{Recipient: "a@b.com", Subject: "s", Content: "   "},
	}
	for _, draft := range cases {
		outcome, err := f.service.Submit(context.Background(), draft)
		if err != nil {
			t.Fatalf("Submit(%+v) failed: %v", draft, err)
		}
		if outcome.Queued || outcome.Reason != ReasonInvalidInput || outcome.Detail == "" {
			t.Fatalf("expected invalid-input for %+v, got %+v", draft, outcome)
		}
	}
	if called {
		t.Fatalf("moderation must not run on invalid input")
	}
	if f.depth(t) != 0 {
		t.Fatalf("queue must stay empty")
	}
}

func TestModerationErrorIsSafeReject(t *testing.T) {
	checker := moderation.CheckerFunc(func(ctx context.Context, text string) (bool, error) {
		return false, errors.New("classifier down")
	})
	f := newFixture(t, checker)

	outcome, err := f.service.Submit(context.Background(), Draft{Recipient: "a@b.com", Subject: "s", Content: "harmless"})
	if err != nil {
		t.Fatalf("Submit must not surface the moderation error, got %v", err)
	}
	if outcome.Reason != ReasonFlaggedContent {
		t.Fatalf("expected flagged-content, got %+v", outcome)
	}
	if f.depth(t) != 0 {
		t.Fatalf("queue must stay empty")
	}
}

func TestModerationSeesExactPlaintext(t *testing.T) {
	var seen string
	checker := moderation.CheckerFunc(func(ctx context.Context, text string) (bool, error) {
		seen = text
		return false, nil
	})
	f := newFixture(t, checker)

	content := "  spaced\nbody  "
	if _, err := f.service.Submit(context.Background(), Draft{Recipient: "a@b.com", Subject: "s", Content: content}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if seen != content {
		t.Fatalf("moderation saw %q, want %q", seen, content)
	}
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, recipient, subject, plaintext string) (int64, error) {
	return 0, apperrors.NewStoreError("enqueue", errors.New("database is locked"))
}

func TestStoreFailureIsAnError(t *testing.T) {
	service := NewService(brokenQueue{}, defaultKeywords(), nil, nil)

	_, err := service.Submit(context.Background(), Draft{Recipient: "a@b.com", Subject: "s", Content: "fine"})
	if !apperrors.Is(err, apperrors.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestSubmitAsConsumesSessionOnlyWhenQueued(t *testing.T) {
	f := newFixture(t, defaultKeywords())
	f.store.SeedCodes("ABC123")
	session := auth.NewGate(f.store).NewSession()
	ctx := context.Background()

	outcome, err := f.service.SubmitAs(ctx, session, Draft{Recipient: "a@b.com", Subject: "s", Content: "hello"})
	if err != nil {
		t.Fatalf("SubmitAs failed: %v", err)
	}
	if outcome.Reason != ReasonUnauthenticated {
		t.Fatalf("expected unauthenticated rejection, got %+v", outcome)
	}

	if decision, err := session.Authenticate(ctx, "ABC123"); err != nil || !decision.Granted() {
		t.Fatalf("Authenticate failed: %+v %v", decision, err)
	}

	outcome, err = f.service.SubmitAs(ctx, session, Draft{Recipient: "a@b.com", Subject: "s", Content: "I hate this"})
	if err != nil {
		t.Fatalf("SubmitAs failed: %v", err)
	}
	if outcome.Reason != ReasonFlaggedContent || !session.Authenticated() {
		t.Fatalf("a rejection must keep the session, got %+v", outcome)
	}

	outcome, err = f.service.SubmitAs(ctx, session, Draft{Recipient: "a@b.com", Subject: "s", Content: "hello"})
	if err != nil {
		t.Fatalf("SubmitAs failed: %v", err)
	}
	if !outcome.Queued || session.Authenticated() {
		t.Fatalf("a queued send must end the session, got %+v", outcome)
	}

	outcome, err = f.service.SubmitAs(ctx, session, Draft{Recipient: "a@b.com", Subject: "s", Content: "again"})
	if err != nil {
		t.Fatalf("SubmitAs failed: %v", err)
	}
	if outcome.Reason != ReasonUnauthenticated {
		t.Fatalf("expected the second send to be refused, got %+v", outcome)
	}
	if f.depth(t) != 1 {
		t.Fatalf("expected exactly one queued message, got %d", f.depth(t))
	}
}
