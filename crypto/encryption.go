package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	apperrors "anonsend/errors"
)

const (
	aes256KeySize = 32
	// MasterKeySize is the length of the secret returned by a SecretProvider.
	MasterKeySize = 32

	envelopeVersion byte = 1
	contentKeyInfo       = "anonsend message content v1"
)

// Codec seals message bodies with AES-256-GCM. The content key is derived once
// from the master secret and never changes for the lifetime of the Codec.
// A Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the content key from masterKey and prepares the AEAD.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("invalid master key length: got %d want %d", len(masterKey), MasterKeySize)
	}

	contentKey := make([]byte, aes256KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(contentKeyInfo)), contentKey); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}

	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The returned envelope is
// version || nonce || ciphertext+tag; two calls never return the same bytes.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = envelopeVersion

	nonce := out[1 : 1+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return c.aead.Seal(out, nonce, []byte(plaintext), []byte{envelopeVersion}), nil
}

// Decrypt opens an envelope produced by Encrypt. Truncated, tampered or
// foreign-key input fails with a *errors.DecryptError.
func (c *Codec) Decrypt(envelope []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(envelope) < 1+nonceSize+c.aead.Overhead() {
		return "", apperrors.NewDecryptError(0, errors.New("ciphertext too short"))
	}
	if envelope[0] != envelopeVersion {
		return "", apperrors.NewDecryptError(0, fmt.Errorf("unsupported envelope version %d", envelope[0]))
	}

	nonce := envelope[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, envelope[1+nonceSize:], envelope[:1])
	if err != nil {
		return "", apperrors.NewDecryptError(0, err)
	}

	return string(plaintext), nil
}
