// Package ratelimit enforces per-agent action counters and spend caps over
// the usage ledger. Windows are sliding: each check counts usage_logs rows
// newer than now minus the window.
package ratelimit

import (
	"context"
	"time"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

// Limiter checks dispatches against resolved limits.
type Limiter struct {
	db *database.Database

	now func() time.Time
}

// NewLimiter builds a ledger-backed limiter.
func NewLimiter(db *database.Database) *Limiter {
	return &Limiter{db: db, now: time.Now}
}

// tierMultiplier scales the system defaults for agents without explicit
// overrides.
func tierMultiplier(tier string) int {
	switch tier {
	case models.TierStarter:
		return 5
	case models.TierPro:
		return 20
	case models.TierEnterprise:
		return 100
	default:
		return 1
	}
}

// ResolveLimits produces the effective limits for an agent: explicit
// overrides where set, otherwise the billing tier's scaled defaults.
func (l *Limiter) ResolveLimits(ctx context.Context, agentID string) (*models.SpendingLimits, error) {
	overrides, err := l.db.GetSpendingLimits(ctx, agentID)
	if err != nil {
		return nil, err
	}
	billing, err := l.db.GetBillingConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}
	mult := tierMultiplier(billing.Tier)

	limits := &models.SpendingLimits{
		AgentID:             agentID,
		MaxActionsPerMinute: constants.DefaultMaxActionsPerMinute * mult,
		MaxActionsPerHour:   constants.DefaultMaxActionsPerHour * mult,
		MaxActionsPerDay:    constants.DefaultMaxActionsPerDay * mult,
		MaxSpendPerDay:      constants.DefaultMaxSpendPerDay * float64(mult),
		MaxSpendPerMonth:    constants.DefaultMaxSpendPerMonth * float64(mult),
	}
	if overrides != nil {
		if overrides.MaxActionsPerMinute > 0 {
			limits.MaxActionsPerMinute = overrides.MaxActionsPerMinute
		}
		if overrides.MaxActionsPerHour > 0 {
			limits.MaxActionsPerHour = overrides.MaxActionsPerHour
		}
		if overrides.MaxActionsPerDay > 0 {
			limits.MaxActionsPerDay = overrides.MaxActionsPerDay
		}
		if overrides.MaxSpendPerDay > 0 {
			limits.MaxSpendPerDay = overrides.MaxSpendPerDay
		}
		if overrides.MaxSpendPerMonth > 0 {
			limits.MaxSpendPerMonth = overrides.MaxSpendPerMonth
		}
	}
	return limits, nil
}

// Check verifies every window before a dispatch, failing with the tightest
// binding limit and its reset hint. It runs before any side effect; the
// usage row is written only after a successful provider call, which allows
// at most one extra dispatch per window under a race.
func (l *Limiter) Check(ctx context.Context, agentID string) error {
	limits, err := l.ResolveLimits(ctx, agentID)
	if err != nil {
		return apperrors.Internal(err)
	}

	now := l.now()
	actionWindows := []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"max_actions_per_minute", time.Minute, limits.MaxActionsPerMinute},
		{"max_actions_per_hour", time.Hour, limits.MaxActionsPerHour},
		{"max_actions_per_day", 24 * time.Hour, limits.MaxActionsPerDay},
	}
	for _, w := range actionWindows {
		count, err := l.db.CountUsageSince(ctx, agentID, now.Add(-w.window))
		if err != nil {
			return apperrors.Internal(err)
		}
		if count >= w.max {
			return apperrors.RateLimited(w.name, now.Add(w.window).Format(time.RFC3339))
		}
	}

	spendWindows := []struct {
		name   string
		window time.Duration
		max    float64
	}{
		{"max_spend_per_day", 24 * time.Hour, limits.MaxSpendPerDay},
		{"max_spend_per_month", 30 * 24 * time.Hour, limits.MaxSpendPerMonth},
	}
	for _, w := range spendWindows {
		spend, err := l.db.SumSpendSince(ctx, agentID, now.Add(-w.window))
		if err != nil {
			return apperrors.Internal(err)
		}
		if spend >= w.max {
			return apperrors.RateLimited(w.name, now.Add(w.window).Format(time.RFC3339))
		}
	}
	return nil
}
