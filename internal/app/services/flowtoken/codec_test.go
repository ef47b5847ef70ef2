package flowtoken

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c, err := NewCodec([]byte("app-secret"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	raw, err := c.Encode(Token{WAID: "255700000001", FlowID: "flow-onboarding"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WAID != "255700000001" || got.FlowID != "flow-onboarding" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEncodeRejectsIncompleteToken(t *testing.T) {
	c, _ := NewCodec([]byte("app-secret"))
	for _, tok := range []Token{{}, {WAID: "255700000001"}, {FlowID: "flow-onboarding"}} {
		if _, err := c.Encode(tok); err == nil {
			t.Fatalf("expected encode failure for %+v", tok)
		}
	}
}

func TestDecodeRejectsMalformedTokens(t *testing.T) {
	c, _ := NewCodec([]byte("app-secret"))
	valid, err := c.Encode(Token{WAID: "255700000001", FlowID: "flow-onboarding"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parts := strings.Split(valid, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three JWT segments, got %d", len(parts))
	}

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"truncated":       valid[:len(valid)/2],
		"missing segment": parts[0] + "." + parts[1],
		"reordered":       parts[1] + "." + parts[0] + "." + parts[2],
		"tampered body":   parts[0] + "." + parts[1] + "x." + parts[2],
		"wrong signature": parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2])),
	}
	for name, raw := range cases {
		if _, err := c.Decode(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func TestDecodeRejectsForeignKey(t *testing.T) {
	ours, _ := NewCodec([]byte("app-secret"))
	theirs, _ := NewCodec([]byte("other-secret"))

	raw, err := theirs.Encode(Token{WAID: "255700000001", FlowID: "flow-onboarding"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ours.Decode(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestDistinctSecretsDeriveDistinctKeys(t *testing.T) {
	a, _ := NewCodec([]byte("secret-a"))
	b, _ := NewCodec([]byte("secret-b"))
	if string(a.key) == string(b.key) {
		t.Fatal("different secrets must derive different signing keys")
	}
}
