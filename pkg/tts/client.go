// Package tts adapts the speech-synthesis provider (ElevenLabs-style API).
// The dispatcher renders call greetings to audio, stores the artifact, and
// hands the provider a playable URL.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"agentgate/internal/constants"
)

// Client synthesizes speech from text.
type Client interface {
	Synthesize(ctx context.Context, text, voiceID string) (audio []byte, cost float64, err error)
}

// HTTPClient talks to the real provider.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a live client.
func NewHTTPClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    "https://api.elevenlabs.io",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: constants.VoiceInitiateTimeout},
	}
}

func (c *HTTPClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, float64, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("tts provider returned status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, float64(len(text)) * constants.CostTTSChar, nil
}

// MockClient backs demo mode with a fixed placeholder artifact.
type MockClient struct {
	mu          sync.Mutex
	Synthesized []string
}

// NewMockClient builds the mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Synthesize(_ context.Context, text, _ string) ([]byte, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Synthesized = append(m.Synthesized, text)
	return []byte("RIFF mock-audio"), float64(len(text)) * constants.CostTTSChar, nil
}
