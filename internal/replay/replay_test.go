package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenDeduplicates(t *testing.T) {
	c := NewCache(100, time.Minute)

	assert.False(t, c.Seen("msg-1"))
	assert.True(t, c.Seen("msg-1"))
	assert.False(t, c.Seen("msg-2"))
}

func TestEmptyIDNeverSeen(t *testing.T) {
	c := NewCache(100, time.Minute)
	assert.False(t, c.Seen(""))
	assert.False(t, c.Seen(""))
}

func TestSizeBound(t *testing.T) {
	c := NewCache(3, time.Minute)

	c.Seen("a")
	c.Seen("b")
	c.Seen("c")
	c.Seen("d") // evicts "a"

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("d"))
}

func TestAgeBound(t *testing.T) {
	c := NewCache(100, time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	assert.False(t, c.Seen("old"))
	current = current.Add(2 * time.Minute)
	assert.False(t, c.Seen("old"), "expired entry counts as unseen")
	assert.True(t, c.Seen("old"))
}
