// Package flowtoken mints and verifies the opaque tokens embedded in
// interactive flow invitations. The token carries the recipient's identity
// and the flow it belongs to, so an encrypted reply can be attributed
// without any server-side session state.
package flowtoken

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ErrTokenInvalid covers every verification failure: bad signature, wrong
// algorithm, malformed encoding or incomplete claims. Callers treat them
// all the same way.
var ErrTokenInvalid = errors.New("flow token invalid")

// Token is the decoded identity a flow reply carries.
type Token struct {
	WAID   string
	FlowID string
}

type claims struct {
	FlowID string `json:"flow"`
	jwt.RegisteredClaims
}

// Codec signs and verifies flow tokens with a key derived from the
// application secret.
type Codec struct {
	key []byte
}

// NewCodec derives the HS256 signing key from the application secret, so
// the raw secret itself is never used as key material directly.
func NewCodec(appSecret []byte) (*Codec, error) {
	if len(appSecret) == 0 {
		return nil, errors.New("app secret is required")
	}
	kdf := hkdf.New(sha256.New, appSecret, []byte("flow-token"), []byte("hs256-signing-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Codec{key: key}, nil
}

// Encode mints a signed token for one recipient and flow.
func (c *Codec) Encode(t Token) (string, error) {
	if t.WAID == "" || t.FlowID == "" {
		return "", fmt.Errorf("token requires both identity and flow id")
	}
	cl := claims{
		FlowID: t.FlowID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: t.WAID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.key)
}

// Decode verifies the signature and returns the embedded identity.
func (c *Codec) Decode(raw string) (Token, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	var cl claims
	_, err := parser.ParseWithClaims(raw, &cl, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if cl.Subject == "" || cl.FlowID == "" {
		return Token{}, fmt.Errorf("%w: incomplete claims", ErrTokenInvalid)
	}
	return Token{WAID: cl.Subject, FlowID: cl.FlowID}, nil
}
