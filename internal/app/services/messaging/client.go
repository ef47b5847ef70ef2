// Package messaging talks to the messaging platform's Graph API. Sends are
// best-effort: the platform client has its own retry semantics, so failures
// here are returned for logging and never re-raised into a webhook response.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// Config carries the Graph API coordinates and credentials.
type Config struct {
	BaseURL       string // default https://graph.facebook.com
	APIVersion    string // e.g. v20.0
	PhoneNumberID string
	APIToken      string
	SendsPerSec   float64 // outbound throttle; 0 disables
}

// Client sends texts and interactive flow messages to end users.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	url        string
	token      string
	log        *logger.Logger
}

// NewClient builds a client for one phone-number deployment.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.PhoneNumberID == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("phone number id and api token are required")
	}
	if log == nil {
		log = logger.NewDefault("messaging")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v20.0"
	}

	var limiter *rate.Limiter
	if cfg.SendsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSec), 1)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
		url:        fmt.Sprintf("%s/%s/%s/messages", base, version, cfg.PhoneNumberID),
		token:      cfg.APIToken,
		log:        log,
	}, nil
}

// SendText sends a plain text message to the recipient.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]interface{}{"body": body},
	}
	return c.post(ctx, payload)
}

// FlowMessage describes one interactive form invitation.
type FlowMessage struct {
	To           string
	FlowID       string
	FlowToken    string
	Header       string
	Body         string
	CallToAction string
	Screen       string
	Data         map[string]interface{}
}

// SendFlow sends an interactive flow message whose action payload opens the
// given screen with prefilled data.
func (c *Client) SendFlow(ctx context.Context, msg FlowMessage) error {
	actionPayload := map[string]interface{}{"screen": msg.Screen}
	if msg.Data != nil {
		actionPayload["data"] = msg.Data
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                msg.To,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "flow",
			"header": map[string]interface{}{"type": "text", "text": msg.Header},
			"body":   map[string]interface{}{"text": msg.Body},
			"action": map[string]interface{}{
				"name": "flow",
				"parameters": map[string]interface{}{
					"flow_message_version": "3",
					"flow_token":           msg.FlowToken,
					"flow_id":              msg.FlowID,
					"flow_cta":             msg.CallToAction,
					"flow_action":          "navigate",
					"flow_action_payload":  actionPayload,
				},
			},
		},
	}
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send throttle: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
