package messaging

import "github.com/tidwall/gjson"

// RequestKind classifies an inbound platform notification. Only user-authored
// messages are subject to admission control; everything else passes through.
type RequestKind string

const (
	KindMessage      RequestKind = "message"
	KindFlowReply    RequestKind = "flow_reply"
	KindStatusUpdate RequestKind = "status_update"
	KindUnknown      RequestKind = "unknown"
)

// ClassifyPayload inspects a raw notification body.
func ClassifyPayload(body []byte) RequestKind {
	value := gjson.GetBytes(body, "entry.0.changes.0.value")
	if !value.Exists() {
		return KindUnknown
	}
	if value.Get("statuses").Exists() {
		return KindStatusUpdate
	}
	message := value.Get("messages.0")
	if !message.Exists() {
		return KindUnknown
	}
	if message.Get("interactive.nfm_reply").Exists() {
		return KindFlowReply
	}
	return KindMessage
}

// ExtractWAID pulls the sender identity out of a notification body, trying
// the contact record first and falling back to the message envelope.
func ExtractWAID(body []byte) string {
	if waID := gjson.GetBytes(body, "entry.0.changes.0.value.contacts.0.wa_id"); waID.Exists() {
		return waID.String()
	}
	return gjson.GetBytes(body, "entry.0.changes.0.value.messages.0.from").String()
}
