package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertUsage records a billable action.
func (d *Database) InsertUsage(ctx context.Context, u *models.UsageLog) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO usage_logs (agent_id, action_type, channel, target_address, cost, external_id, org_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.AgentID, u.ActionType, u.Channel, u.TargetAddress, u.Cost, nullString(u.ExternalID), u.OrgID)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}
	return nil
}

// CountUsageSince counts actions for an agent in the window starting at
// since; the sliding-window rate limiter reads this.
func (d *Database) CountUsageSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_logs WHERE agent_id = ? AND created_at >= ?`,
		agentID, FormatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

// SumSpendSince totals cost for an agent since the given time.
func (d *Database) SumSpendSince(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var total float64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_logs WHERE agent_id = ? AND created_at >= ?`,
		agentID, FormatTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// UsageSummary is the per-channel rollup returned by usage reads.
type UsageSummary struct {
	AgentID      string             `json:"agent_id"`
	TotalActions int                `json:"total_actions"`
	TotalCost    float64            `json:"total_cost"`
	ByChannel    map[string]int     `json:"by_channel"`
	CostByChannel map[string]float64 `json:"cost_by_channel"`
}

// GetUsageSummary aggregates an agent's usage since the given time.
func (d *Database) GetUsageSummary(ctx context.Context, agentID string, since time.Time) (*UsageSummary, error) {
	query := `
		SELECT channel, COUNT(*), COALESCE(SUM(cost), 0)
		FROM usage_logs
		WHERE agent_id = ? AND created_at >= ?
		GROUP BY channel
	`
	rows, err := d.db.QueryContext(ctx, query, agentID, FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	summary := &UsageSummary{
		AgentID:       agentID,
		ByChannel:     make(map[string]int),
		CostByChannel: make(map[string]float64),
	}
	for rows.Next() {
		var channel string
		var count int
		var cost float64
		if err := rows.Scan(&channel, &count, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		summary.ByChannel[channel] = count
		summary.CostByChannel[channel] = cost
		summary.TotalActions += count
		summary.TotalCost += cost
	}
	return summary, rows.Err()
}

// ListUsage returns recent usage rows for an agent, newest first.
func (d *Database) ListUsage(ctx context.Context, agentID string, since time.Time, limit int) ([]*models.UsageLog, error) {
	query := `
		SELECT id, agent_id, action_type, channel, target_address, cost, external_id, created_at, org_id
		FROM usage_logs
		WHERE agent_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, agentID, FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var logs []*models.UsageLog
	for rows.Next() {
		var u models.UsageLog
		var extID sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.AgentID, &u.ActionType, &u.Channel, &u.TargetAddress,
			&u.Cost, &extID, &createdAt, &u.OrgID); err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		u.ExternalID = fromNull(extID)
		if t, err := ParseTime(createdAt); err == nil {
			u.CreatedAt = t
		}
		logs = append(logs, &u)
	}
	return logs, rows.Err()
}
