package ratelimit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

func setupLimiter(t *testing.T) (*Limiter, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "ratelimit.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLimiter(db), db
}

func logUsage(t *testing.T, db *database.Database, agentID string, cost float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.InsertUsage(context.Background(), &models.UsageLog{
			AgentID: agentID, ActionType: "send_message", Channel: "sms",
			TargetAddress: "+14155550100", Cost: cost, OrgID: "org-a",
		}))
	}
}

func TestUnderLimitPasses(t *testing.T) {
	l, db := setupLimiter(t)
	logUsage(t, db, "agent-1", 0.0079, constants.DefaultMaxActionsPerMinute-1)

	assert.NoError(t, l.Check(context.Background(), "agent-1"))
}

func TestMinuteLimitBinds(t *testing.T) {
	l, db := setupLimiter(t)
	logUsage(t, db, "agent-1", 0.0079, constants.DefaultMaxActionsPerMinute)

	err := l.Check(context.Background(), "agent-1")
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindRateLimited, appErr.Kind)
	assert.Equal(t, "max_actions_per_minute", appErr.Reason)
	assert.NotEmpty(t, appErr.ResetAt)
}

func TestSpendCapBinds(t *testing.T) {
	l, db := setupLimiter(t)
	// A single expensive action under the minute count but over the daily
	// spend cap.
	logUsage(t, db, "agent-1", constants.DefaultMaxSpendPerDay+1, 1)

	err := l.Check(context.Background(), "agent-1")
	require.Error(t, err)
	assert.Equal(t, "max_spend_per_day", apperrors.As(err).Reason)
}

func TestOverridesReplaceDefaults(t *testing.T) {
	l, db := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, db.SetSpendingLimits(ctx, &models.SpendingLimits{
		AgentID: "agent-1", MaxActionsPerMinute: 2,
	}))

	logUsage(t, db, "agent-1", 0.0079, 2)
	err := l.Check(ctx, "agent-1")
	require.Error(t, err)
	assert.Equal(t, "max_actions_per_minute", apperrors.As(err).Reason)
}

func TestTierScalesDefaults(t *testing.T) {
	l, db := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, db.SetBillingConfig(ctx, &models.BillingConfig{
		AgentID: "agent-1", Tier: models.TierPro,
	}))

	limits, err := l.ResolveLimits(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultMaxActionsPerMinute*20, limits.MaxActionsPerMinute)
	assert.Equal(t, constants.DefaultMaxSpendPerDay*20, limits.MaxSpendPerDay)

	// Over the free-tier minute limit but under pro: passes.
	logUsage(t, db, "agent-1", 0.0079, constants.DefaultMaxActionsPerMinute+5)
	assert.NoError(t, l.Check(ctx, "agent-1"))
}
