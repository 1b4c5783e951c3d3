package storage

import (
	"context"
	"testing"

	"anonsend/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	return newTestStoreWithDriver(t, DriverCGO)
}

func newTestStoreWithDriver(t *testing.T, driver string) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir, Options{Driver: driver})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustInsertCodes(t *testing.T, store *Store, codes ...string) {
	t.Helper()

	if _, err := store.InsertCodes(context.Background(), codes, codeSourceBulk); err != nil {
		t.Fatalf("insert codes %v: %v", codes, err)
	}
}

func mustGetMessage(t *testing.T, store *Store, id int64) *models.StoredMessage {
	t.Helper()

	row := store.db.QueryRow(`SELECT id, recipient, subject, ciphertext, sent, sent_at, created_at
		FROM messages WHERE id = ?`, id)
	message, err := scanMessage(row)
	if err != nil {
		t.Fatalf("load message %d: %v", id, err)
	}
	return message
}
