package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AccessCode is a single-use token that authorizes one submission.
type AccessCode struct {
	Value     string     `json:"code"`
	Used      bool       `json:"used"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// CodeTag returns a short stable digest of code for logs and error text, so a
// live code never appears in either.
func CodeTag(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:4])
}

// CodeStats counts access codes by state.
type CodeStats struct {
	Total  int `json:"total"`
	Unused int `json:"unused"`
}
