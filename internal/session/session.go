// Package session keeps in-flight voice call configuration between the
// initiating request and the provider's outbound webhook. Entries expire
// after a TTL; the provider either fetched the configuration by then or the
// call never connected.
package session

import (
	"sync"
	"time"

	"agentgate/internal/models"
)

// Registry is an in-memory TTL store keyed by session id.
type Registry struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*models.VoiceSession

	now func() time.Time
}

// NewRegistry builds a registry whose entries live for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:      ttl,
		sessions: make(map[string]*models.VoiceSession),
		now:      time.Now,
	}
}

// Put stores the session, stamping its expiry.
func (r *Registry) Put(s *models.VoiceSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ExpiresAt = r.now().Add(r.ttl)
	r.sessions[s.SessionID] = s
	r.sweepLocked()
}

// Get returns the live session for id, or nil when missing or expired.
func (r *Registry) Get(id string) *models.VoiceSession {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if r.now().After(s.ExpiresAt) {
		r.Delete(id)
		return nil
	}
	return s
}

// Delete removes a session once the call is connected or abandoned.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports live entries (expired ones may linger until the next sweep).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweepLocked() {
	now := r.now()
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
		}
	}
}
