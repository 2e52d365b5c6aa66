package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

func TestBodyRejectsInjection(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"script tag", `Hello <script>alert(1)</script>`},
		{"javascript uri", `Click javascript:alert(1)`},
		{"event handler", `<img onerror=alert(1)>`},
		{"sql drop", `x'; DROP TABLE users`},
		{"sql tautology", `a OR 1=1 b`},
		{"shell rm", `hello ; rm -rf /`},
		{"command substitution", `hi $(whoami)`},
		{"path traversal", `see ../../etc/passwd`},
		{"crlf", "line one\r\nline two"},
		{"bare lf", "line one\nline two"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Body(tc.body)
			require.Error(t, err)
			assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
		})
	}
}

func TestBodyAcceptsNormalText(t *testing.T) {
	got, err := Body("Your appointment is confirmed for 3pm. Reply STOP to opt out.")
	require.NoError(t, err)
	assert.Contains(t, got, "appointment")

	_, err = Body("")
	assert.Error(t, err)

	_, err = Body(strings.Repeat("a", 5000))
	assert.Error(t, err)
}

func TestDestinationE164(t *testing.T) {
	assert.NoError(t, Destination(models.ChannelSMS, "+14155550100"))
	assert.NoError(t, Destination(models.ChannelVoice, "+442071838750"))

	for _, bad := range []string{"14155550100", "+0123", "+1", "not-a-number", "+1415555010012345678"} {
		err := Destination(models.ChannelSMS, bad)
		assert.Error(t, err, "expected rejection of %q", bad)
	}
}

func TestDestinationEmail(t *testing.T) {
	assert.NoError(t, Destination(models.ChannelEmail, "user@example.com"))
	assert.NoError(t, Destination(models.ChannelEmail, "first.last+tag@sub.example.co.uk"))

	for _, bad := range []string{"plainaddress", "@missing-local.com", "user@", "user@@example.com", "user@-bad.com"} {
		err := Destination(models.ChannelEmail, bad)
		assert.Error(t, err, "expected rejection of %q", bad)
	}
}

func TestFieldRejectsCRLF(t *testing.T) {
	err := Field("display_name", "Widget\r\nBcc: attacker@evil.com")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))

	assert.NoError(t, Field("display_name", "Support Bot"))
}

func TestSubject(t *testing.T) {
	got, err := Subject("Your invoice is ready")
	require.NoError(t, err)
	assert.Equal(t, "Your invoice is ready", got)

	_, err = Subject("Hi\r\nBcc: victim@example.com")
	assert.Error(t, err)
}
