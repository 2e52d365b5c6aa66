package compliance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

func setupGate(t *testing.T) (*Gate, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "compliance.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	g := NewGate(db, logger)
	// Pin the clock to mid-afternoon UTC so the TCPA window passes for the
	// default US timezone.
	g.now = func() time.Time {
		return time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)
	}
	return g, db
}

func TestDNCBlocks(t *testing.T) {
	g, db := setupGate(t)
	ctx := context.Background()

	require.NoError(t, db.AddDNCEntry(ctx, &models.DNCEntry{
		PhoneNumber: "+15559999999", Reason: "opt-out", AddedBy: "admin", OrgID: "org-a",
	}))

	_, err := g.Check(ctx, "org-a", models.ChannelSMS, "+15559999999", "hi", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))
	assert.Contains(t, apperrors.As(err).Reason, "Do Not Contact")

	// Other orgs are unaffected by this org's list.
	_, err = g.Check(ctx, "org-b", models.ChannelSMS, "+15559999999", "hi", "America/Chicago")
	assert.NoError(t, err)
}

func TestContentScreen(t *testing.T) {
	g, _ := setupGate(t)
	ctx := context.Background()

	_, err := g.Check(ctx, "org-a", models.ChannelSMS, "+14155550100", "I will kill you tomorrow", "America/New_York")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))

	_, err = g.Check(ctx, "org-a", models.ChannelSMS, "+14155550100", "Your order shipped today", "America/New_York")
	assert.NoError(t, err)
}

func TestTCPAWindow(t *testing.T) {
	g, _ := setupGate(t)
	ctx := context.Background()

	// 18:00 UTC is 03:00 in Tokyo: outside the window.
	_, err := g.Check(ctx, "org-a", models.ChannelSMS, "+819012345678", "hello", "Asia/Tokyo")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))

	// 18:00 UTC is 14:00 in New York: inside the window.
	_, err = g.Check(ctx, "org-a", models.ChannelSMS, "+14155550100", "hello", "America/New_York")
	assert.NoError(t, err)

	// Email is exempt from the calling window.
	_, err = g.Check(ctx, "org-a", models.ChannelEmail, "user@example.com", "hello", "Asia/Tokyo")
	assert.NoError(t, err)
}

func TestTCPADefaultTimezoneFromCountry(t *testing.T) {
	g, _ := setupGate(t)
	ctx := context.Background()

	// No timezone provided; +81 defaults to Asia/Tokyo where it is 03:00.
	_, err := g.Check(ctx, "org-a", models.ChannelVoice, "+819012345678", "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))
}

func TestConsentWarningAllowsCall(t *testing.T) {
	g, _ := setupGate(t)
	ctx := context.Background()

	// 18:00 UTC is 20:00 in Berlin: inside the window, all-party consent
	// jurisdiction produces a warning, not a denial.
	result, err := g.Check(ctx, "org-a", models.ChannelVoice, "+493012345678", "", "Europe/Berlin")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ConsentWarning)
}
