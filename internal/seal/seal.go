// Package seal encrypts short-lived payloads with AES-256-GCM.
//
// Sealed values are three hex fields joined by colons: the 12-byte IV, the
// 16-byte authentication tag, and the ciphertext.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16
)

// ErrInvalidPayload is returned when a sealed value is malformed, tampered with, or sealed with another key.
var ErrInvalidPayload = errors.New("invalid sealed payload")

// Sealer encrypts and decrypts values with a fixed key.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a Sealer from a 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext into "ivHex:tagHex:cipherHex".
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	out := s.aead.Seal(nil, iv, plaintext, nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	return strings.Join([]string{hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(ct)}, ":"), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return nil, ErrInvalidPayload
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, ErrInvalidPayload
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrInvalidPayload
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidPayload
	}
	plaintext, err := s.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return plaintext, nil
}

// SealJSON marshals v and seals it.
func (s *Sealer) SealJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("json marshal: %w", err)
	}
	return s.Seal(data)
}

// OpenJSON opens sealed and unmarshals the plaintext into dest.
func (s *Sealer) OpenJSON(sealed string, dest any) error {
	data, err := s.Open(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
