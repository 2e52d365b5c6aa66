package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertCallLog records a new call in its initial state.
func (d *Database) InsertCallLog(ctx context.Context, c *models.CallLog) error {
	status := c.Status
	if status == "" {
		status = models.CallPending
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO call_logs (id, agent_id, call_sid, direction, from_address, to_address, status, transfer_to, org_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.CallSID, c.Direction, c.FromAddress, c.ToAddress, status,
		nullString(c.TransferTo), c.OrgID)
	if err != nil {
		return fmt.Errorf("failed to insert call log: %w", err)
	}
	return nil
}

// UpdateCallStatus applies a provider status callback. Terminal statuses
// record duration and end time.
func (d *Database) UpdateCallStatus(ctx context.Context, callSID, status string, durationSeconds int) error {
	var ended sql.NullString
	if status == models.CallCompleted || status == models.CallFailed {
		ended = nullString(FormatTime(time.Now()))
	}
	_, err := d.db.ExecContext(ctx,
		`UPDATE call_logs SET status = ?, duration_seconds = ?, ended_at = COALESCE(?, ended_at)
		 WHERE call_sid = ?`,
		status, durationSeconds, ended, callSID)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	return nil
}

// SetCallTransfer records where an in-flight call was redirected.
func (d *Database) SetCallTransfer(ctx context.Context, callSID, transferTo string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE call_logs SET transfer_to = ? WHERE call_sid = ?`, transferTo, callSID)
	if err != nil {
		return fmt.Errorf("failed to set call transfer: %w", err)
	}
	return nil
}

// GetCallBySID fetches a call within the org scope.
func (d *Database) GetCallBySID(ctx context.Context, callSID, orgID string) (*models.CallLog, error) {
	var c models.CallLog
	var duration sql.NullInt64
	var transferTo, endedAt sql.NullString
	var createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, call_sid, direction, from_address, to_address, status,
		        duration_seconds, transfer_to, ended_at, org_id, created_at
		 FROM call_logs WHERE call_sid = ? AND org_id = ?`, callSID, orgID).
		Scan(&c.ID, &c.AgentID, &c.CallSID, &c.Direction, &c.FromAddress, &c.ToAddress,
			&c.Status, &duration, &transferTo, &endedAt, &c.OrgID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	c.DurationSeconds = int(duration.Int64)
	c.TransferTo = fromNull(transferTo)
	c.EndedAt = timePtr(endedAt)
	if t, err := ParseTime(createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}
