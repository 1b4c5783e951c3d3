package models

import "time"

// StoredMessage is the persisted shape of a queued message: the body exists
// only as ciphertext.
type StoredMessage struct {
	ID         int64
	Recipient  string
	Subject    string
	Ciphertext []byte
	Sent       bool
	SentAt     *time.Time
	CreatedAt  time.Time
}
