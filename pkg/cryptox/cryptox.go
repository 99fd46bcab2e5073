// Package cryptox provides the symmetric confidentiality, identifier hashing,
// and integrity primitives for PHI at rest. Encryption is AES-256-GCM, so
// tamper detection is built into Decrypt rather than bolted on by callers.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")
	ErrKeySize    = errors.New("encryption key must be 32 bytes")
)

// Box owns the process-wide key material: one AES-256 key for PHI
// confidentiality, one HMAC key for integrity tags and token signing support,
// and one salt for identifier hashing. All three are loaded once at startup
// and never rotated at runtime; rotation would need a key-version tag on each
// stored blob, which the wire format does not carry.
type Box struct {
	aead    cipher.AEAD
	hmacKey []byte
	salt    []byte
}

// New builds a Box from a 32-byte AES key. The hmacKey and salt may be any
// length; empty values are permitted only for non-production use.
func New(key, hmacKey, salt []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Box{aead: aead, hmacKey: hmacKey, salt: salt}, nil
}

// NewRandom builds a Box with freshly generated key material. It exists so
// development environments can run without configured keys; anything
// encrypted with it is unrecoverable after restart.
func NewRandom() (*Box, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	hmacKey := make([]byte, 32)
	if _, err := rand.Read(hmacKey); err != nil {
		return nil, fmt.Errorf("generating hmac key: %w", err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return New(key, hmacKey, salt)
}

// Encrypt seals plaintext under a fresh random nonce and returns
// "nonceHex:ciphertextHex". The random nonce makes encryption
// non-deterministic: the same plaintext never produces the same output
// twice. An empty plaintext returns an empty string, not an error.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryption, err)
	}

	ciphertext := b.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Malformed framing, bad hex, a truncated nonce,
// a wrong key, or any tampering of the ciphertext all fail with
// ErrDecryption; corrupted plaintext is never returned.
func (b *Box) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	nonceHex, ctHex, found := strings.Cut(blob, ":")
	if !found {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryption)
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != b.aead.NonceSize() {
		return "", fmt.Errorf("%w: invalid nonce", ErrDecryption)
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryption)
	}

	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return string(plaintext), nil
}

// HashIdentifier returns the salted SHA-256 of an identifier, hex encoded.
// Deterministic for a given identifier and salt, so hashed identifiers stay
// joinable across audit entries without the raw value ever being stored.
func (b *Box) HashIdentifier(identifier string) string {
	h := sha256.New()
	h.Write(b.salt)
	h.Write([]byte(identifier))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateSecureToken returns 256 bits of cryptographically secure
// randomness, hex encoded.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MaskForDisplay replaces all but the last showLast characters with '*'.
// Formatting helper for human-facing logs only, not a security boundary.
func MaskForDisplay(text string, showLast int) string {
	runes := []rune(text)
	if showLast < 0 {
		showLast = 0
	}
	if len(runes) <= showLast {
		return text
	}
	masked := strings.Repeat("*", len(runes)-showLast)
	return masked + string(runes[len(runes)-showLast:])
}

// ComputeIntegrityTag returns the HMAC-SHA256 of data, hex encoded.
func (b *Box) ComputeIntegrityTag(data []byte) string {
	mac := hmac.New(sha256.New, b.hmacKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIntegrityTag checks a tag produced by ComputeIntegrityTag using a
// constant-time comparison.
func (b *Box) VerifyIntegrityTag(data []byte, tag string) bool {
	expected, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, b.hmacKey)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}
