// Package lineapi adapts the LINE Messaging API: push messages out, webhook
// signature verification in. Signatures are HMAC-SHA256 over the raw body,
// base64-encoded, carried in X-Line-Signature.
package lineapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"agentgate/internal/constants"
)

// SendResult acknowledges a push.
type SendResult struct {
	ExternalID string
	Cost       float64
}

// Client is the LINE surface the gateway depends on.
type Client interface {
	Push(ctx context.Context, to, text string) (*SendResult, error)
	VerifySignature(payload []byte, signature string) bool
}

// HTTPClient talks to the real Messaging API.
type HTTPClient struct {
	baseURL       string
	channelToken  string
	channelSecret string
	httpClient    *http.Client
}

// NewHTTPClient builds a live client from channel credentials.
func NewHTTPClient(channelToken, channelSecret string) *HTTPClient {
	return &HTTPClient{
		baseURL:       "https://api.line.me",
		channelToken:  channelToken,
		channelSecret: channelSecret,
		httpClient:    &http.Client{Timeout: constants.SendTimeout},
	}
}

func (c *HTTPClient) Push(ctx context.Context, to, text string) (*SendResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"to": to,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/bot/message/push", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("line api returned status %d: %s", resp.StatusCode, string(body))
	}
	// LINE assigns no per-message id on push; synthesize one for the ledger.
	return &SendResult{ExternalID: "line-" + uuid.NewString()}, nil
}

// VerifySignature checks X-Line-Signature over the raw request body.
func (c *HTTPClient) VerifySignature(payload []byte, signature string) bool {
	if c.channelSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.channelSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// MockClient backs demo mode.
type MockClient struct {
	mu     sync.Mutex
	Pushed []string
}

// NewMockClient builds an always-succeeding mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Push(_ context.Context, to, _ string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushed = append(m.Pushed, to)
	return &SendResult{ExternalID: "line-" + uuid.NewString()}, nil
}

func (m *MockClient) VerifySignature(_ []byte, _ string) bool {
	return true
}
