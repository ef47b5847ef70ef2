package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
)

// EnvelopeDecryptor unwraps hybrid-encrypted webhook envelopes. The sender
// encrypts a per-request AES key under our RSA public key and the body under
// that AES key.
type EnvelopeDecryptor struct {
	privateKey *rsa.PrivateKey
}

// NewEnvelopeDecryptor builds a decryptor around the deployment's private key.
func NewEnvelopeDecryptor(privateKey *rsa.PrivateKey) (*EnvelopeDecryptor, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &EnvelopeDecryptor{privateKey: privateKey}, nil
}

// Decrypt opens the envelope and parses the plaintext. Every failure mode,
// including unparsable plaintext, surfaces as ErrDecryptionFailed with no
// partial result; recovered key material is zeroed on those paths. The caller
// owns the returned session and must Destroy it when the request ends.
func (d *EnvelopeDecryptor) Decrypt(env flow.EncryptedEnvelope) (flow.Payload, *flow.Session, error) {
	sealed, err := base64.StdEncoding.DecodeString(env.EncryptedFlowData)
	if err != nil {
		return flow.Payload{}, nil, fmt.Errorf("%w: decode flow data: %v", ErrDecryptionFailed, err)
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(env.EncryptedAESKey)
	if err != nil {
		return flow.Payload{}, nil, fmt.Errorf("%w: decode aes key: %v", ErrDecryptionFailed, err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.InitialVector)
	if err != nil {
		return flow.Payload{}, nil, fmt.Errorf("%w: decode iv: %v", ErrDecryptionFailed, err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, d.privateKey, wrappedKey, nil)
	if err != nil {
		return flow.Payload{}, nil, fmt.Errorf("%w: unwrap aes key: %v", ErrDecryptionFailed, err)
	}

	session := &flow.Session{Key: key, IV: iv}

	plaintext, err := openGCM(session.Key, session.IV, sealed)
	if err != nil {
		session.Destroy()
		return flow.Payload{}, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	var payload flow.Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		session.Destroy()
		return flow.Payload{}, nil, fmt.Errorf("%w: parse payload: %v", ErrDecryptionFailed, err)
	}

	return payload, session, nil
}
