package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"anonsend/codes"
	"anonsend/config"
	"anonsend/models"
)

// execute runs the root command with args against a fresh data directory
// state, returning what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	generateCount, generateOut = 10, ""
	submitCode, submitTo, submitSubject, submitBody = "", "", "", ""
	workerOnce = false
	totpAccount, totpQRPath = "submissions", ""
	eventsType, eventsSeverity, eventsSince, eventsLimit = "", "", 0, models.DefaultEventLimit

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.DataDirEnv, dir)
	t.Setenv("ANONSEND_LOG_LEVEL", "error")
	return dir
}

func TestCodesGenerateAndList(t *testing.T) {
	dir := setupDataDir(t)
	codesPath := filepath.Join(dir, "codes.yaml")

	if _, err := execute(t, "codes", "generate", "-n", "3", "--out", codesPath); err != nil {
		t.Fatalf("codes generate: %v", err)
	}

	written, err := codes.ReadFile(codesPath)
	if err != nil {
		t.Fatalf("read generated codes: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 codes in file, got %d", len(written))
	}

	out, err := execute(t, "codes", "list")
	if err != nil {
		t.Fatalf("codes list: %v", err)
	}
	if !strings.Contains(out, "total=3 unused=3 used=0") {
		t.Fatalf("unexpected list output %q", out)
	}

	// Importing the same file again adds nothing.
	out, err = execute(t, "codes", "import", codesPath)
	if err != nil {
		t.Fatalf("codes import: %v", err)
	}
	if !strings.Contains(out, "Imported 0 of 3") {
		t.Fatalf("unexpected import output %q", out)
	}
}

func TestSubmitAndDeliverEndToEnd(t *testing.T) {
	dir := setupDataDir(t)
	codesPath := filepath.Join(dir, "codes.yaml")

	if _, err := execute(t, "keygen"); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if _, err := execute(t, "codes", "generate", "-n", "2", "--out", codesPath); err != nil {
		t.Fatalf("codes generate: %v", err)
	}
	generated, err := codes.ReadFile(codesPath)
	if err != nil {
		t.Fatalf("read generated codes: %v", err)
	}

	_, err = execute(t, "submit",
		"--code", generated[0],
		"--to", "alice@example.com",
		"--subject", "Hello",
		"--body", "Thanks for everything this year.")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = execute(t, "submit",
		"--code", generated[0],
		"--to", "alice@example.com",
		"--body", "second try")
	if !errors.Is(err, errAccessDenied) {
		t.Fatalf("expected reused code to be denied, got %v", err)
	}

	_, err = execute(t, "submit",
		"--code", generated[1],
		"--to", "bob@example.com",
		"--body", "I will hurt you")
	if !errors.Is(err, errNotQueued) {
		t.Fatalf("expected flagged message to be rejected, got %v", err)
	}

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "0 unused of 2") {
		t.Fatalf("expected both codes used in status, got %q", out)
	}

	out, err = execute(t, "worker", "--once")
	if err != nil {
		t.Fatalf("worker --once: %v", err)
	}
	if !strings.Contains(out, "fetched=1 sent=1 failed=0 undecryptable=0") {
		t.Fatalf("unexpected worker report %q", out)
	}

	out, err = execute(t, "worker", "--once")
	if err != nil {
		t.Fatalf("second worker --once: %v", err)
	}
	if !strings.Contains(out, "fetched=0 sent=0") {
		t.Fatalf("expected empty queue after delivery, got %q", out)
	}

	out, err = execute(t, "events", "--type", models.EventAuthDenied)
	if err != nil {
		t.Fatalf("events --type: %v", err)
	}
	if !strings.Contains(out, models.EventAuthDenied) || strings.Contains(out, models.EventDeliverySent) {
		t.Fatalf("expected only auth_denied entries, got %q", out)
	}
	if strings.Contains(out, generated[0]) {
		t.Fatalf("raw code leaked into the journal output: %q", out)
	}

	out, err = execute(t, "events", "--since", "1h", "-n", "1")
	if err != nil {
		t.Fatalf("events --since: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), "\n") != 0 || !strings.Contains(out, models.EventDeliverySent) {
		t.Fatalf("expected just the newest entry, got %q", out)
	}

	if _, err := execute(t, "events", "--severity", "loud"); err == nil {
		t.Fatal("expected an unknown severity to be rejected")
	}
}

func TestUndecryptableMessageSurfacesAsCriticalEvent(t *testing.T) {
	dir := setupDataDir(t)
	codesPath := filepath.Join(dir, "codes.yaml")

	if _, err := execute(t, "keygen"); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if _, err := execute(t, "codes", "generate", "-n", "1", "--out", codesPath); err != nil {
		t.Fatalf("codes generate: %v", err)
	}
	generated, err := codes.ReadFile(codesPath)
	if err != nil {
		t.Fatalf("read generated codes: %v", err)
	}
	if _, err := execute(t, "submit", "--code", generated[0], "--to", "alice@example.com", "--body", "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Rotate the master key so the queued message can no longer be opened.
	if err := os.Remove(filepath.Join(dir, "keys", "master_key.pem")); err != nil {
		t.Fatalf("remove master key: %v", err)
	}
	if _, err := execute(t, "keygen"); err != nil {
		t.Fatalf("second keygen: %v", err)
	}

	out, err := execute(t, "worker", "--once")
	if err != nil {
		t.Fatalf("worker --once: %v", err)
	}
	if !strings.Contains(out, "undecryptable=1") {
		t.Fatalf("expected one undecryptable message, got %q", out)
	}

	out, err = execute(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "1 in the last 24h") {
		t.Fatalf("expected the critical event in status, got %q", out)
	}

	out, err = execute(t, "events", "--severity", models.SeverityCritical)
	if err != nil {
		t.Fatalf("events --severity: %v", err)
	}
	if !strings.Contains(out, models.EventDecryptFailed) {
		t.Fatalf("expected decrypt_failed in events, got %q", out)
	}
}

func TestSubmitWithoutMasterKeyFails(t *testing.T) {
	setupDataDir(t)

	_, err := execute(t, "submit", "--code", "123456", "--to", "a@example.com", "--body", "hi")
	if err == nil {
		t.Fatal("expected submit to fail without a master key")
	}
}

func TestTOTPSetupRefusesOverwrite(t *testing.T) {
	dir := setupDataDir(t)
	qrPath := filepath.Join(dir, "totp.png")

	out, err := execute(t, "totp", "setup", "--qr", qrPath)
	if err != nil {
		t.Fatalf("totp setup: %v", err)
	}
	if !strings.Contains(out, "otpauth://totp/") {
		t.Fatalf("expected provisioning URL in output, got %q", out)
	}

	if _, err := execute(t, "totp", "setup"); err == nil {
		t.Fatal("expected second setup to refuse overwriting the secret")
	}
}
