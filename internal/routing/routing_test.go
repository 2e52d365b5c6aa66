package routing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/database"
	"agentgate/internal/models"
)

func TestCountryOf(t *testing.T) {
	assert.Equal(t, "US", CountryOf("+14155550100"))
	assert.Equal(t, "IL", CountryOf("+972502629999"))
	assert.Equal(t, "GB", CountryOf("+442071838750"))
	assert.Equal(t, "JP", CountryOf("+819012345678"))
	// Unknown prefix defaults to US.
	assert.Equal(t, "US", CountryOf("+999123456"))
}

func setupSelector(t *testing.T) (*Selector, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "routing.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSelector(db), db
}

func seedPool(t *testing.T, db *database.Database) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+18452514056", CountryCode: "US",
		Capabilities: []string{"sms", "voice"}, IsDefault: true, OrgID: "org-a",
	}))
	require.NoError(t, db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+97243760273", CountryCode: "IL",
		Capabilities: []string{"sms", "voice"}, OrgID: "org-a",
	}))
}

func TestCountryAffinityWinsOverDefault(t *testing.T) {
	sel, db := setupSelector(t)
	seedPool(t, db)

	from, err := sel.ResolveFrom(context.Background(), "+10000000000", "+972502629999", models.ChannelSMS, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "+97243760273", from)
}

func TestDefaultWhenNoCountryMatch(t *testing.T) {
	sel, db := setupSelector(t)
	seedPool(t, db)

	from, err := sel.ResolveFrom(context.Background(), "+10000000000", "+442071838750", models.ChannelVoice, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "+18452514056", from)
}

func TestAgentPhoneFallback(t *testing.T) {
	sel, _ := setupSelector(t)

	from, err := sel.ResolveFrom(context.Background(), "+14155550100", "+972502629999", models.ChannelSMS, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "+14155550100", from)
}

func TestNoSenderSelectable(t *testing.T) {
	sel, _ := setupSelector(t)

	from, err := sel.ResolveFrom(context.Background(), "", "+972502629999", models.ChannelSMS, "org-a")
	require.NoError(t, err)
	assert.Empty(t, from)
}

func TestCapabilityFilter(t *testing.T) {
	sel, db := setupSelector(t)
	ctx := context.Background()
	// SMS-only pool entry must not serve voice.
	require.NoError(t, db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+18005550001", CountryCode: "US",
		Capabilities: []string{"sms"}, IsDefault: true, OrgID: "org-a",
	}))

	from, err := sel.ResolveFrom(ctx, "+14155550100", "+18001234567", models.ChannelVoice, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "+14155550100", from)
}

func TestTenantIsolation(t *testing.T) {
	sel, db := setupSelector(t)
	seedPool(t, db)

	// Another org's pool entries are invisible.
	from, err := sel.ResolveFrom(context.Background(), "", "+972502629999", models.ChannelSMS, "org-b")
	require.NoError(t, err)
	assert.Empty(t, from)
}
