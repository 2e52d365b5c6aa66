// Package storage persists TTS artifacts and serves them back under
// /storage/{key}. Keys follow the stable format voice-{uuid}.wav so provider
// webhooks can replay them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes artifacts to a local directory and maps them to public URLs.
type Store struct {
	dir     string
	baseURL string
}

// NewStore builds a store rooted at dir; baseURL is the public host prefix
// (the gateway's WEBHOOK_BASE_URL).
func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// NewKey returns a fresh artifact key.
func NewKey() string {
	return "voice-" + uuid.NewString() + ".wav"
}

// Put stores data under key and returns its public URL.
func (s *Store) Put(key string, data []byte) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid storage key")
	}
	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return s.baseURL + "/storage/" + key, nil
}

// Get reads an artifact back for serving.
func (s *Store) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid storage key")
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// validKey refuses anything that could escape the storage directory.
func validKey(key string) bool {
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "\\") || strings.Contains(key, "..") {
		return false
	}
	return true
}
