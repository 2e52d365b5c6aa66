package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertAgentToken stores a hashed bearer token for an agent. Plaintext
// tokens never reach the database.
func (d *Database) InsertAgentToken(ctx context.Context, tokenHash, agentID, label string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agent_tokens (token_hash, agent_id, label) VALUES (?, ?, ?)`,
		tokenHash, agentID, label)
	if err != nil {
		return fmt.Errorf("failed to insert agent token: %w", err)
	}
	return nil
}

// LookupAgentToken resolves a token hash to its agent, skipping revoked
// tokens, and touches last_used_at.
func (d *Database) LookupAgentToken(ctx context.Context, tokenHash string) (*models.AgentToken, error) {
	var t models.AgentToken
	var revoked, lastUsed sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT token_hash, agent_id, label, revoked_at, last_used_at
		 FROM agent_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.TokenHash, &t.AgentID, &t.Label, &revoked, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup agent token: %w", err)
	}
	if revoked.Valid {
		return nil, nil
	}
	t.RevokedAt = timePtr(revoked)
	t.LastUsedAt = timePtr(lastUsed)

	_, _ = d.db.ExecContext(ctx,
		`UPDATE agent_tokens SET last_used_at = ? WHERE token_hash = ?`,
		FormatTime(time.Now()), tokenHash)
	return &t, nil
}

// RevokeAgentTokens revokes all live tokens for an agent (rotation and
// deprovisioning both end here). Returns the number revoked.
func (d *Database) RevokeAgentTokens(ctx context.Context, agentID string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE agent_tokens SET revoked_at = ? WHERE agent_id = ? AND revoked_at IS NULL`,
		FormatTime(time.Now()), agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke agent tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// InsertOrgToken stores a hashed org-admin token.
func (d *Database) InsertOrgToken(ctx context.Context, tokenHash, orgID, label string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO org_tokens (token_hash, org_id, label) VALUES (?, ?, ?)`,
		tokenHash, orgID, label)
	if err != nil {
		return fmt.Errorf("failed to insert org token: %w", err)
	}
	return nil
}

// LookupOrgToken resolves a token hash to its org, skipping revoked tokens.
func (d *Database) LookupOrgToken(ctx context.Context, tokenHash string) (*models.OrgToken, error) {
	var t models.OrgToken
	var revoked, lastUsed sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT token_hash, org_id, label, revoked_at, last_used_at
		 FROM org_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.TokenHash, &t.OrgID, &t.Label, &revoked, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup org token: %w", err)
	}
	if revoked.Valid {
		return nil, nil
	}
	t.RevokedAt = timePtr(revoked)
	t.LastUsedAt = timePtr(lastUsed)

	_, _ = d.db.ExecContext(ctx,
		`UPDATE org_tokens SET last_used_at = ? WHERE token_hash = ?`,
		FormatTime(time.Now()), tokenHash)
	return &t, nil
}

// RevokeOrgToken revokes a single org token by hash.
func (d *Database) RevokeOrgToken(ctx context.Context, tokenHash string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE org_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		FormatTime(time.Now()), tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke org token: %w", err)
	}
	return nil
}
