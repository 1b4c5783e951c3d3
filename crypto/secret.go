package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const masterKeyPEMType = "ANONSEND MASTER KEY"

// ErrSecretMissing is returned when a provider has no key to offer.
var ErrSecretMissing = errors.New("master key is not configured")

// SecretProvider supplies the master key once at startup.
type SecretProvider interface {
	MasterKey() ([]byte, error)
}

// FileSecret reads the master key from a PEM file.
type FileSecret struct {
	Path string
}

// MasterKey implements SecretProvider.
func (f FileSecret) MasterKey() ([]byte, error) {
	if f.Path == "" {
		return nil, ErrSecretMissing
	}
	key, err := LoadMasterKey(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrSecretMissing, err)
		}
		return nil, err
	}
	return key, nil
}

// EnvSecret reads a base64-encoded master key from an environment variable.
type EnvSecret struct {
	Var string
}

// MasterKey implements SecretProvider.
func (e EnvSecret) MasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(e.Var))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretMissing, e.Var)
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Var, err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("decode %s: invalid key size %d", e.Var, len(key))
	}

	return key, nil
}

// GenerateMasterKey returns a new random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// EnsureMasterKey loads the master key from path, generating it on first run.
func EnsureMasterKey(path string) ([]byte, bool, error) {
	key, err := LoadMasterKey(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = GenerateMasterKey()
	if err != nil {
		return nil, false, err
	}
	if err := SaveMasterKey(path, key); err != nil {
		return nil, false, err
	}

	return key, true, nil
}

// LoadMasterKey reads a master key from a PEM file.
func LoadMasterKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode master key PEM: no PEM block")
	}
	if block.Type != masterKeyPEMType {
		return nil, fmt.Errorf("decode master key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != MasterKeySize {
		return nil, fmt.Errorf("decode master key PEM: invalid key size %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// SaveMasterKey writes a master key PEM file with 0600 permissions. An existing
// file is never overwritten, since that would orphan every stored message.
func SaveMasterKey(path string, key []byte) error {
	if len(key) != MasterKeySize {
		return fmt.Errorf("save master key: invalid key size %d", len(key))
	}

	block := &pem.Block{
		Type:  masterKeyPEMType,
		Bytes: key,
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("write master key: %w", err)
	}
	if _, err := file.Write(pem.EncodeToMemory(block)); err != nil {
		_ = file.Close()
		return fmt.Errorf("write master key: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close master key: %w", err)
	}

	return nil
}

// KeyFingerprint returns a truncated SHA-256 hex fingerprint identifying key
// in logs without revealing it.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(append([]byte("anonsend fingerprint:"), key...))
	return hex.EncodeToString(sum[:8])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
