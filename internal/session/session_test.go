package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/models"
)

func TestPutGetDelete(t *testing.T) {
	r := NewRegistry(10 * time.Minute)

	r.Put(&models.VoiceSession{
		SessionID:    "sess-1",
		AgentID:      "agent-1",
		SystemPrompt: "You are a receptionist.",
		Greeting:     "Hello!",
	})

	got := r.Get("sess-1")
	require.NotNil(t, got)
	assert.Equal(t, "agent-1", got.AgentID)

	r.Delete("sess-1")
	assert.Nil(t, r.Get("sess-1"))
}

func TestExpiry(t *testing.T) {
	r := NewRegistry(10 * time.Minute)
	current := time.Now()
	r.now = func() time.Time { return current }

	r.Put(&models.VoiceSession{SessionID: "sess-2", AgentID: "agent-1"})
	require.NotNil(t, r.Get("sess-2"))

	current = current.Add(11 * time.Minute)
	assert.Nil(t, r.Get("sess-2"))
}

func TestSweepOnPut(t *testing.T) {
	r := NewRegistry(time.Minute)
	current := time.Now()
	r.now = func() time.Time { return current }

	r.Put(&models.VoiceSession{SessionID: "old", AgentID: "a"})
	current = current.Add(2 * time.Minute)
	r.Put(&models.VoiceSession{SessionID: "new", AgentID: "b"})

	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Get("old"))
	assert.NotNil(t, r.Get("new"))
}
