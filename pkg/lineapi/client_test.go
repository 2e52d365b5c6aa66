package lineapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c := NewHTTPClient("token", "channel-secret")
	payload := []byte(`{"events":[{"type":"message"}]}`)

	assert.True(t, c.VerifySignature(payload, sign("channel-secret", payload)))
	assert.False(t, c.VerifySignature(payload, sign("wrong-secret", payload)))
	assert.False(t, c.VerifySignature([]byte("tampered"), sign("channel-secret", payload)))
}

func TestVerifySignatureNoSecret(t *testing.T) {
	c := NewHTTPClient("token", "")
	assert.False(t, c.VerifySignature([]byte("anything"), "sig"))
}
