package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
)

// EncryptResponse seals the reply payload for the session that produced the
// request: same AES key, IV with every byte complemented, ciphertext and tag
// concatenated and base64-encoded.
func EncryptResponse(payload interface{}, session *flow.Session) (string, error) {
	if session == nil {
		return "", fmt.Errorf("%w: no session", ErrEncryptionFailed)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrEncryptionFailed, err)
	}

	sealed, err := sealGCM(session.Key, InvertedIV(session.IV), plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}
