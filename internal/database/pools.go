package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agentgate/internal/models"
)

// GetAgentPool returns the singleton capacity row.
func (d *Database) GetAgentPool(ctx context.Context) (*models.AgentPool, error) {
	var p models.AgentPool
	err := d.db.QueryRowContext(ctx,
		`SELECT max_agents, active_agents FROM agent_pool WHERE id = 1`).Scan(&p.MaxAgents, &p.ActiveAgents)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent pool: %w", err)
	}
	return &p, nil
}

// IncrementAgentPool claims a pool slot. The conditional update keeps
// active_agents <= max_agents under concurrent provisioning; zero rows
// affected means the pool is full.
func (d *Database) IncrementAgentPool(ctx context.Context) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE agent_pool SET active_agents = active_agents + 1 WHERE id = 1 AND active_agents < max_agents`)
	if err != nil {
		return false, fmt.Errorf("failed to increment agent pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// DecrementAgentPool releases a slot, never going below zero.
func (d *Database) DecrementAgentPool(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE agent_pool SET active_agents = active_agents - 1 WHERE id = 1 AND active_agents > 0`)
	if err != nil {
		return fmt.Errorf("failed to decrement agent pool: %w", err)
	}
	return nil
}

// SetAgentPoolMax configures capacity (used by setup and tests).
func (d *Database) SetAgentPoolMax(ctx context.Context, max int) error {
	_, err := d.db.ExecContext(ctx, `UPDATE agent_pool SET max_agents = ? WHERE id = 1`, max)
	if err != nil {
		return fmt.Errorf("failed to set agent pool max: %w", err)
	}
	return nil
}

// AssignWhatsAppFromPool atomically claims one available sender. The single
// conditional UPDATE guarantees at most one concurrent winner per entry.
// Returns nil when the pool has nothing available (soft failure).
func (d *Database) AssignWhatsAppFromPool(ctx context.Context, agentID string) (*models.WhatsAppPoolEntry, error) {
	query := `
		UPDATE whatsapp_pool
		SET status = ?, assigned_to_agent = ?
		WHERE sender_sid = (
			SELECT sender_sid FROM whatsapp_pool WHERE status = ? LIMIT 1
		) AND status = ?
		RETURNING sender_sid, phone_number
	`
	var entry models.WhatsAppPoolEntry
	err := d.db.QueryRowContext(ctx, query,
		models.PoolAssigned, agentID, models.PoolAvailable, models.PoolAvailable,
	).Scan(&entry.SenderSID, &entry.PhoneNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign whatsapp sender: %w", err)
	}
	entry.Status = models.PoolAssigned
	entry.AssignedToAgent = agentID
	return &entry, nil
}

// ReturnWhatsAppToPool releases the agent's sender back to available.
func (d *Database) ReturnWhatsAppToPool(ctx context.Context, agentID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE whatsapp_pool SET status = ?, assigned_to_agent = NULL WHERE assigned_to_agent = ?`,
		models.PoolAvailable, agentID)
	if err != nil {
		return fmt.Errorf("failed to return whatsapp sender: %w", err)
	}
	return nil
}

// AddWhatsAppPoolEntry seeds the shared sender pool.
func (d *Database) AddWhatsAppPoolEntry(ctx context.Context, phoneNumber, senderSID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO whatsapp_pool (sender_sid, phone_number, status) VALUES (?, ?, ?)`,
		senderSID, phoneNumber, models.PoolAvailable)
	if err != nil {
		return fmt.Errorf("failed to add whatsapp pool entry: %w", err)
	}
	return nil
}

// AddNumberPoolEntry registers a shared outbound number. At most one default
// per org: setting a new default clears the previous one.
func (d *Database) AddNumberPoolEntry(ctx context.Context, e *models.NumberPoolEntry) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		if e.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE number_pool SET is_default = 0 WHERE org_id = ?`, e.OrgID); err != nil {
				return fmt.Errorf("failed to clear default number: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO number_pool (phone_number, country_code, capabilities, is_default, org_id)
			 VALUES (?, ?, ?, ?, ?)`,
			e.PhoneNumber, e.CountryCode, strings.Join(e.Capabilities, ","), boolToInt(e.IsDefault), e.OrgID)
		if err != nil {
			return fmt.Errorf("failed to add number pool entry: %w", err)
		}
		return nil
	})
}

// ListNumberPool returns the org's pool ordered default-first then oldest.
func (d *Database) ListNumberPool(ctx context.Context, orgID string) ([]*models.NumberPoolEntry, error) {
	query := `
		SELECT phone_number, country_code, capabilities, is_default, org_id, created_at
		FROM number_pool
		WHERE org_id = ?
		ORDER BY is_default DESC, created_at ASC
	`
	rows, err := d.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list number pool: %w", err)
	}
	defer rows.Close()

	var entries []*models.NumberPoolEntry
	for rows.Next() {
		var e models.NumberPoolEntry
		var caps, createdAt string
		var isDefault int
		if err := rows.Scan(&e.PhoneNumber, &e.CountryCode, &caps, &isDefault, &e.OrgID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan number pool entry: %w", err)
		}
		if caps != "" {
			e.Capabilities = strings.Split(caps, ",")
		}
		e.IsDefault = isDefault == 1
		if t, err := ParseTime(createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
