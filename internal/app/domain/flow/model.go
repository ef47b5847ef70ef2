// Package flow defines the value objects exchanged with the platform's
// encrypted interactive-form webhook.
package flow

// Action identifies what the platform wants from a form exchange.
type Action string

const (
	ActionPing         Action = "ping"
	ActionDataExchange Action = "data_exchange"
	ActionInit         Action = "INIT"
)

// EncryptedEnvelope is the hybrid-encrypted container posted to the flows
// webhook: an asymmetrically wrapped AES key plus the AES-GCM encrypted body.
type EncryptedEnvelope struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
	Version           string `json:"version,omitempty"`
}

// Payload is the decrypted request body. Action may be absent; that is valid
// input, not an error.
type Payload struct {
	Action    Action                 `json:"action,omitempty"`
	FlowToken string                 `json:"flow_token,omitempty"`
	FlowID    string                 `json:"flow_id,omitempty"`
	Screen    string                 `json:"screen,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Session carries the symmetric key material recovered from one envelope. It
// is valid for exactly one request: decrypt the request, encrypt the reply.
// It must never be logged, persisted or reused across requests.
type Session struct {
	Key []byte
	IV  []byte
}

// Destroy zeroes the key material. Safe to call on a nil session and more
// than once.
func (s *Session) Destroy() {
	if s == nil {
		return
	}
	for i := range s.Key {
		s.Key[i] = 0
	}
	for i := range s.IV {
		s.IV[i] = 0
	}
}

// Response is what a form handler returns for one exchange. When Screen is
// empty, Data is sent as the raw reply payload.
type Response struct {
	Screen string
	Data   map[string]interface{}
}

// WirePayload renders the reply payload the platform expects.
func (r Response) WirePayload() map[string]interface{} {
	if r.Screen == "" {
		return r.Data
	}
	data := r.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return map[string]interface{}{"screen": r.Screen, "data": data}
}
