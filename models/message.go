package models

import "time"

// Message is a queued message with its body decrypted for delivery.
// Content only ever lives in memory; storage holds the ciphertext.
type Message struct {
	ID        int64      `json:"id"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject"`
	Content   string     `json:"-"`
	Sent      bool       `json:"sent"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
