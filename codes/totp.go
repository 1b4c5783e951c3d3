package codes

import (
	"context"
	"encoding/pem"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	apperrors "anonsend/errors"
	"anonsend/models"
)

const (
	totpPEMType = "ANONSEND TOTP KEY"
	// DefaultIssuer and DefaultAccount label the authenticator entry.
	DefaultIssuer  = "anonsend"
	DefaultAccount = "submission portal"
)

// NewTOTPKey creates a fresh TOTP secret.
func NewTOTPKey(issuer, account string) (*otp.Key, error) {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if account == "" {
		account = DefaultAccount
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: account})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	return key, nil
}

// SaveTOTPKey stores the key's otpauth URL in a 0600 PEM file. An existing
// file is never overwritten.
func SaveTOTPKey(path string, key *otp.Key) error {
	block := &pem.Block{Type: totpPEMType, Bytes: []byte(key.URL())}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("write totp key: %w", err)
	}
	if _, err := file.Write(pem.EncodeToMemory(block)); err != nil {
		_ = file.Close()
		return fmt.Errorf("write totp key: %w", err)
	}
	return file.Close()
}

// LoadTOTPKey reads a key written by SaveTOTPKey.
func LoadTOTPKey(path string) (*otp.Key, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read totp key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != totpPEMType {
		return nil, fmt.Errorf("decode totp key: no %s block", totpPEMType)
	}
	key, err := otp.NewKeyFromURL(string(block.Bytes))
	if err != nil {
		return nil, fmt.Errorf("parse totp key: %w", err)
	}
	return key, nil
}

// WriteQRCode renders the key's provisioning URI as a PNG.
func WriteQRCode(path string, key *otp.Key) error {
	img, err := key.Image(256, 256)
	if err != nil {
		return fmt.Errorf("render qr code: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create qr file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode qr png: %w", err)
	}
	return file.Close()
}

// StepRedeemer persists which TOTP time steps have been used.
// RedeemTOTPStep must return true for exactly one caller per step.
type StepRedeemer interface {
	RedeemTOTPStep(ctx context.Context, step int64) (bool, error)
	HasRedeemedTOTPStep(ctx context.Context, step int64) (bool, error)
}

// TOTPStore is an auth.CodeStore over a TOTP secret. A code is "unused" when
// it matches a time step within the skew window that has not been redeemed;
// MarkUsed redeems that step, so each step authorizes at most one session.
type TOTPStore struct {
	secret   string
	opts     totp.ValidateOpts
	redeemer StepRedeemer
	now      func() time.Time
}

// NewTOTPStore verifies six-digit SHA1 codes with a 30 second period, the
// defaults authenticator apps use.
func NewTOTPStore(key *otp.Key, skew uint, redeemer StepRedeemer) *TOTPStore {
	return &TOTPStore{
		secret: key.Secret(),
		opts: totp.ValidateOpts{
			Period:    30,
			Skew:      skew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		redeemer: redeemer,
		now:      time.Now,
	}
}

// matchingSteps returns the time steps in the skew window whose code equals
// code, nearest first.
func (s *TOTPStore) matchingSteps(code string) ([]int64, error) {
	period := int64(s.opts.Period)
	current := s.now().Unix() / period

	offsets := []int64{0}
	for i := int64(1); i <= int64(s.opts.Skew); i++ {
		offsets = append(offsets, -i, i)
	}

	var steps []int64
	for _, off := range offsets {
		step := current + off
		expected, err := totp.GenerateCodeCustom(s.secret, time.Unix(step*period, 0).UTC(), s.opts)
		if err != nil {
			return nil, fmt.Errorf("generate totp code: %w", err)
		}
		if expected == code {
			steps = append(steps, step)
		}
	}
	return steps, nil
}

func (s *TOTPStore) LookupUnused(ctx context.Context, code string) (*models.AccessCode, error) {
	steps, err := s.matchingSteps(code)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		used, err := s.redeemer.HasRedeemedTOTPStep(ctx, step)
		if err != nil {
			return nil, apperrors.Store("lookup totp step", err)
		}
		if !used {
			return &models.AccessCode{Value: code, CreatedAt: time.Unix(step*int64(s.opts.Period), 0)}, nil
		}
	}
	return nil, apperrors.NewNotFoundError("access code", models.CodeTag(code))
}

func (s *TOTPStore) MarkUsed(ctx context.Context, code string) error {
	steps, err := s.matchingSteps(code)
	if err != nil {
		return err
	}
	for _, step := range steps {
		won, err := s.redeemer.RedeemTOTPStep(ctx, step)
		if err != nil {
			return apperrors.Store("redeem totp step", err)
		}
		if won {
			return nil
		}
	}
	return apperrors.NewNotFoundError("access code", models.CodeTag(code))
}
