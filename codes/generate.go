// Package codes creates and loads one-time access codes: random bulk codes
// with a YAML interchange file, and TOTP codes derived from a shared secret.
package codes

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"anonsend/auth"
)

const (
	// CodeDigits is the length of generated bulk codes.
	CodeDigits = 6
	// MaxBatch caps one Generate call.
	MaxBatch = 10000
)

var (
	codeMin   = big.NewInt(100000)
	codeRange = big.NewInt(900000)
)

// Generate returns n distinct random six-digit codes in the range
// 100000-999999.
func Generate(n int) ([]string, error) {
	if n <= 0 || n > MaxBatch {
		return nil, fmt.Errorf("code count must be between 1 and %d, got %d", MaxBatch, n)
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		v, err := rand.Int(rand.Reader, codeRange)
		if err != nil {
			return nil, fmt.Errorf("read random code: %w", err)
		}
		code := strconv.FormatInt(v.Add(v, codeMin).Int64(), 10)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// File is the YAML layout used by `codes generate --out` and `codes import`.
type File struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	Codes       []Entry   `yaml:"codes"`
}

// Entry is one code in a File. Used entries are skipped on import.
type Entry struct {
	Code string `yaml:"code"`
	Used bool   `yaml:"used"`
}

// WriteFile exports codes as unused entries. The file is created 0600 and
// must not already exist.
func WriteFile(path string, codes []string, now time.Time) error {
	f := File{GeneratedAt: now.UTC(), Codes: make([]Entry, 0, len(codes))}
	for _, c := range codes {
		f.Codes = append(f.Codes, Entry{Code: c})
	}

	raw, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode codes: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create codes file: %w", err)
	}
	if _, err := file.Write(raw); err != nil {
		_ = file.Close()
		return fmt.Errorf("write codes file: %w", err)
	}
	return file.Close()
}

// ReadFile loads a codes file and returns the normalized unused codes.
// Duplicates are dropped; any malformed code fails the whole file.
func ReadFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read codes file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse codes file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Codes))
	out := make([]string, 0, len(f.Codes))
	for i, entry := range f.Codes {
		if entry.Used {
			continue
		}
		code, err := auth.NormalizeCode(entry.Code)
		if err != nil {
			return nil, fmt.Errorf("codes[%d]: %w", i, err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}
