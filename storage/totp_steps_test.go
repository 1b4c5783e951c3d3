package storage

import (
	"context"
	"testing"
)

func TestTOTPStepRedemption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	redeemed, err := store.RedeemTOTPStep(ctx, 1000)
	if err != nil {
		t.Fatalf("RedeemTOTPStep failed: %v", err)
	}
	if !redeemed {
		t.Fatalf("expected first redemption to succeed")
	}

	redeemed, err = store.RedeemTOTPStep(ctx, 1000)
	if err != nil {
		t.Fatalf("second RedeemTOTPStep failed: %v", err)
	}
	if redeemed {
		t.Fatalf("expected second redemption of the same step to be refused")
	}

	if _, err := store.RedeemTOTPStep(ctx, 1005); err != nil {
		t.Fatalf("RedeemTOTPStep 1005 failed: %v", err)
	}

	pruned, err := store.PruneTOTPSteps(ctx, 1003)
	if err != nil {
		t.Fatalf("PruneTOTPSteps failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned step, got %d", pruned)
	}

	seenOld, err := store.HasRedeemedTOTPStep(ctx, 1000)
	if err != nil {
		t.Fatalf("HasRedeemedTOTPStep 1000 failed: %v", err)
	}
	seenNew, err := store.HasRedeemedTOTPStep(ctx, 1005)
	if err != nil {
		t.Fatalf("HasRedeemedTOTPStep 1005 failed: %v", err)
	}
	if seenOld {
		t.Fatalf("expected step 1000 to be pruned")
	}
	if !seenNew {
		t.Fatalf("expected step 1005 to remain after prune")
	}
}
