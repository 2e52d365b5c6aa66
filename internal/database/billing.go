package database

import (
	"context"
	"database/sql"
	"fmt"

	"agentgate/internal/models"
)

// GetSpendingLimits returns per-agent overrides, or nil when the agent has
// none (callers fall back to system defaults).
func (d *Database) GetSpendingLimits(ctx context.Context, agentID string) (*models.SpendingLimits, error) {
	var l models.SpendingLimits
	err := d.db.QueryRowContext(ctx,
		`SELECT agent_id, max_actions_per_minute, max_actions_per_hour, max_actions_per_day,
		        max_spend_per_day, max_spend_per_month
		 FROM spending_limits WHERE agent_id = ?`, agentID).
		Scan(&l.AgentID, &l.MaxActionsPerMinute, &l.MaxActionsPerHour, &l.MaxActionsPerDay,
			&l.MaxSpendPerDay, &l.MaxSpendPerMonth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spending limits: %w", err)
	}
	return &l, nil
}

// SetSpendingLimits upserts per-agent overrides.
func (d *Database) SetSpendingLimits(ctx context.Context, l *models.SpendingLimits) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO spending_limits (agent_id, max_actions_per_minute, max_actions_per_hour,
		    max_actions_per_day, max_spend_per_day, max_spend_per_month)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		    max_actions_per_minute = excluded.max_actions_per_minute,
		    max_actions_per_hour = excluded.max_actions_per_hour,
		    max_actions_per_day = excluded.max_actions_per_day,
		    max_spend_per_day = excluded.max_spend_per_day,
		    max_spend_per_month = excluded.max_spend_per_month`,
		l.AgentID, l.MaxActionsPerMinute, l.MaxActionsPerHour, l.MaxActionsPerDay,
		l.MaxSpendPerDay, l.MaxSpendPerMonth)
	if err != nil {
		return fmt.Errorf("failed to set spending limits: %w", err)
	}
	return nil
}

// DeleteSpendingLimits removes per-agent overrides on deprovision.
func (d *Database) DeleteSpendingLimits(ctx context.Context, agentID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM spending_limits WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to delete spending limits: %w", err)
	}
	return nil
}

// GetBillingConfig returns the agent's commercial settings, defaulting to
// the free tier when none exist.
func (d *Database) GetBillingConfig(ctx context.Context, agentID string) (*models.BillingConfig, error) {
	var b models.BillingConfig
	var email sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT agent_id, tier, markup_percent, billing_email FROM billing_config WHERE agent_id = ?`,
		agentID).Scan(&b.AgentID, &b.Tier, &b.MarkupPercent, &email)
	if err == sql.ErrNoRows {
		return &models.BillingConfig{AgentID: agentID, Tier: models.TierFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing config: %w", err)
	}
	b.BillingEmail = fromNull(email)
	return &b, nil
}

// SetBillingConfig upserts the agent's tier and markup.
func (d *Database) SetBillingConfig(ctx context.Context, b *models.BillingConfig) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO billing_config (agent_id, tier, markup_percent, billing_email)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		    tier = excluded.tier,
		    markup_percent = excluded.markup_percent,
		    billing_email = excluded.billing_email`,
		b.AgentID, b.Tier, b.MarkupPercent, nullString(b.BillingEmail))
	if err != nil {
		return fmt.Errorf("failed to set billing config: %w", err)
	}
	return nil
}
