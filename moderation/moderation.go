// Package moderation screens message content before it is queued. A checker
// reports flagged=true for content that must not be sent; callers treat a
// checker error the same as a flag.
package moderation

import (
	"context"
	"strings"
)

// Checker screens one piece of text.
type Checker interface {
	Check(ctx context.Context, text string) (flagged bool, err error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, text string) (bool, error)

func (f CheckerFunc) Check(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}

// Keywords flags text containing any listed word, case-insensitively and
// anywhere in the text.
type Keywords struct {
	words []string
}

func NewKeywords(words []string) *Keywords {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			normalized = append(normalized, w)
		}
	}
	return &Keywords{words: normalized}
}

func (k *Keywords) Check(ctx context.Context, text string) (bool, error) {
	lower := strings.ToLower(text)
	for _, w := range k.words {
		if strings.Contains(lower, w) {
			return true, nil
		}
	}
	return false, nil
}

// Chain runs checkers in order and stops at the first flag or error.
type Chain []Checker

func (c Chain) Check(ctx context.Context, text string) (bool, error) {
	for _, checker := range c {
		flagged, err := checker.Check(ctx, text)
		if err != nil {
			return true, err
		}
		if flagged {
			return true, nil
		}
	}
	return false, nil
}
