// Package emailapi adapts the transactional email provider (Resend-style
// JSON API) behind a narrow interface with a demo-mode mock.
package emailapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"agentgate/internal/constants"
)

// SendRequest is one outbound email.
type SendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// SendResult is the provider's acknowledgment.
type SendResult struct {
	ExternalID string
	Cost       float64
}

// Client is the email surface the gateway depends on.
type Client interface {
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
	VerifySignature(payload []byte, signature string) bool
}

// HTTPClient talks to the real provider.
type HTTPClient struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

// NewHTTPClient builds a live client. webhookSecret signs inbound email
// webhooks; empty disables verification (rejected upstream in production).
func NewHTTPClient(apiKey, webhookSecret string) *HTTPClient {
	return &HTTPClient{
		baseURL:       "https://api.resend.com",
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: constants.SendTimeout},
	}
}

func (c *HTTPClient) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create email request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("email send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("email provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode email response: %w", err)
	}
	return &SendResult{ExternalID: decoded.ID, Cost: constants.CostEmail}, nil
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw webhook
// body.
func (c *HTTPClient) VerifySignature(payload []byte, signature string) bool {
	if c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// MockClient backs demo mode.
type MockClient struct {
	mu       sync.Mutex
	Sent     []SendRequest
	FailSend bool
}

// NewMockClient builds an always-succeeding mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Send(_ context.Context, req *SendRequest) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend {
		return nil, fmt.Errorf("mock email failure")
	}
	m.Sent = append(m.Sent, *req)
	return &SendResult{ExternalID: "email-" + uuid.NewString(), Cost: constants.CostEmail}, nil
}

func (m *MockClient) VerifySignature(_ []byte, _ string) bool {
	return true
}
