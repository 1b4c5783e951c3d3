package codes

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/sync/errgroup"

	"anonsend/auth"
	apperrors "anonsend/errors"
	"anonsend/memstore"
)

func newTOTPFixture(t *testing.T, now time.Time) (*TOTPStore, string) {
	t.Helper()
	key, err := NewTOTPKey("", "")
	if err != nil {
		t.Fatalf("NewTOTPKey failed: %v", err)
	}
	store := NewTOTPStore(key, 1, memstore.New())
	store.now = func() time.Time { return now }
	return store, key.Secret()
}

func TestTOTPCodeIsSingleUse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	store, secret := newTOTPFixture(t, now)
	ctx := context.Background()

	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}

	if _, err := store.LookupUnused(ctx, code); err != nil {
		t.Fatalf("LookupUnused failed: %v", err)
	}
	if err := store.MarkUsed(ctx, code); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, err := store.LookupUnused(ctx, code); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found after use, got %v", err)
	}
	if err := store.MarkUsed(ctx, code); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected second MarkUsed to fail, got %v", err)
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	store, secret := newTOTPFixture(t, now)
	ctx := context.Background()

	previous, err := totp.GenerateCode(secret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := store.LookupUnused(ctx, previous); err != nil {
		t.Fatalf("code from the previous step must be accepted within skew: %v", err)
	}

	stale, err := totp.GenerateCode(secret, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	current, _ := totp.GenerateCode(secret, now)
	if stale != current && stale != previous {
		if _, err := store.LookupUnused(ctx, stale); !apperrors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected stale code to be rejected, got %v", err)
		}
	}
}

func TestTOTPGateGrantsOnceUnderRace(t *testing.T) {
	now := time.Now()
	store, secret := newTOTPFixture(t, now)
	gate := auth.NewGate(store)

	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}

	var granted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			decision, err := gate.Submit(context.Background(), code)
			if err != nil {
				return err
			}
			if decision.Granted() {
				granted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if granted.Load() != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted.Load())
	}
}

func TestTOTPKeyPersistence(t *testing.T) {
	dir := t.TempDir()
	key, err := NewTOTPKey("issuer", "account")
	if err != nil {
		t.Fatalf("NewTOTPKey failed: %v", err)
	}

	keyPath := filepath.Join(dir, "totp.pem")
	if err := SaveTOTPKey(keyPath, key); err != nil {
		t.Fatalf("SaveTOTPKey failed: %v", err)
	}
	if err := SaveTOTPKey(keyPath, key); err == nil {
		t.Fatalf("expected SaveTOTPKey to refuse overwriting")
	}

	loaded, err := LoadTOTPKey(keyPath)
	if err != nil {
		t.Fatalf("LoadTOTPKey failed: %v", err)
	}
	if loaded.Secret() != key.Secret() || loaded.Issuer() != "issuer" {
		t.Fatalf("loaded key does not match: %s", loaded.URL())
	}

	qrPath := filepath.Join(dir, "qr.png")
	if err := WriteQRCode(qrPath, key); err != nil {
		t.Fatalf("WriteQRCode failed: %v", err)
	}
	if info, err := os.Stat(qrPath); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty QR file, got %v", err)
	}
}
