// Package crypto implements the byte-level contract of the platform's
// encrypted interactive-form exchange: AES-GCM over a hybrid envelope on the
// request leg, and the same key under a bitwise-complemented IV on the reply
// leg. The transformations here are wire requirements, not choices.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrDecryptionFailed covers every way an envelope can fail to open:
	// malformed fields, a bad key unwrap, a GCM tag mismatch or unparsable
	// plaintext. No partial result ever accompanies it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrEncryptionFailed reports a reply that could not be sealed. With
	// well-formed session material it should be unreachable.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// sealGCM encrypts plaintext under key and iv, returning ciphertext with the
// authentication tag appended. The platform uses 16-byte IVs, so the GCM
// instance is sized to the IV rather than the Go default.
func sealGCM(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// openGCM decrypts sealed (ciphertext || tag) under key and iv, verifying the
// authentication tag.
func openGCM(key, iv, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

func newGCM(key, iv []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 32:
	default:
		return nil, fmt.Errorf("aes key must be 16 or 32 bytes, got %d", len(key))
	}
	if len(iv) == 0 {
		return nil, fmt.Errorf("iv is required")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}

// InvertedIV complements every byte of the request IV. The platform mandates
// this exact derivation for the reply leg; any other one is incompatible.
func InvertedIV(iv []byte) []byte {
	inverted := make([]byte, len(iv))
	for i, b := range iv {
		inverted[i] = ^b
	}
	return inverted
}
