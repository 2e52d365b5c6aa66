package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agentgate/internal/models"
)

const agentColumns = `agent_id, display_name, phone_number, phone_number_sid,
	whatsapp_sender_sid, whatsapp_status, email_address, voice_id,
	system_prompt, greeting, callback_url, blocked_channels, status, org_id, created_at`

func scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*models.Agent, error) {
	var a models.Agent
	var phone, phoneSID, waSID, waStatus, email, voice, prompt, greeting, callback sql.NullString
	var blocked, createdAt string

	err := row.Scan(
		&a.AgentID, &a.DisplayName, &phone, &phoneSID,
		&waSID, &waStatus, &email, &voice,
		&prompt, &greeting, &callback, &blocked, &a.Status, &a.OrgID, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.PhoneNumber = fromNull(phone)
	a.WhatsAppSenderSID = fromNull(waSID)
	a.WhatsAppStatus = fromNull(waStatus)
	a.EmailAddress = fromNull(email)
	a.VoiceID = fromNull(voice)
	a.SystemPrompt = fromNull(prompt)
	a.Greeting = fromNull(greeting)
	a.CallbackURL = fromNull(callback)
	if blocked != "" {
		a.BlockedChannels = strings.Split(blocked, ",")
	}
	if t, err := ParseTime(createdAt); err == nil {
		a.CreatedAt = t
	}
	// phone_number_sid is carried only for release; expose via PhoneNumber
	// lookups elsewhere.
	_ = phoneSID
	return &a, nil
}

// InsertAgent creates the agent row inside tx. A UNIQUE violation on
// agent_id means a concurrent provision won the race.
func (d *Database) InsertAgent(ctx context.Context, tx *sql.Tx, a *models.Agent, phoneNumberSID string) error {
	query := `
		INSERT INTO agent_channels (
			agent_id, display_name, phone_number, phone_number_sid,
			whatsapp_sender_sid, whatsapp_status, email_address, voice_id,
			system_prompt, greeting, callback_url, blocked_channels, status, org_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		a.AgentID, a.DisplayName, nullString(a.PhoneNumber), nullString(phoneNumberSID),
		nullString(a.WhatsAppSenderSID), nullString(a.WhatsAppStatus),
		nullString(a.EmailAddress), nullString(a.VoiceID),
		nullString(a.SystemPrompt), nullString(a.Greeting), nullString(a.CallbackURL),
		strings.Join(a.BlockedChannels, ","), a.Status, a.OrgID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// DeleteAgent removes the agent row; used only by saga compensation before
// the row ever became observable as a success.
func (d *Database) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM agent_channels WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent within the org scope.
func (d *Database) GetAgent(ctx context.Context, agentID, orgID string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_channels WHERE agent_id = ? AND org_id = ?`
	agent, err := scanAgent(d.db.QueryRowContext(ctx, query, agentID, orgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// GetAgentAnyOrg fetches an agent without tenant scoping; admin-only paths.
func (d *Database) GetAgentAnyOrg(ctx context.Context, agentID string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_channels WHERE agent_id = ?`
	agent, err := scanAgent(d.db.QueryRowContext(ctx, query, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// FindAgentByIdentity resolves the owning agent of an inbound "to" address:
// phone number, WhatsApp sender sid, or email alias.
func (d *Database) FindAgentByIdentity(ctx context.Context, channel models.Channel, to string) (*models.Agent, error) {
	var where string
	switch channel {
	case models.ChannelWhatsApp:
		// Carriers address WhatsApp traffic by number; agents hold sender
		// sids, so resolve through the pool.
		where = `(whatsapp_sender_sid = ?
			OR whatsapp_sender_sid IN (SELECT sender_sid FROM whatsapp_pool WHERE phone_number = ?))`
	case models.ChannelEmail:
		where = `email_address = ?`
	case models.ChannelLine:
		where = `agent_id = ?`
	default:
		where = `phone_number = ?`
	}

	args := []interface{}{to}
	if channel == models.ChannelWhatsApp {
		args = append(args, to)
	}
	query := `SELECT ` + agentColumns + ` FROM agent_channels WHERE ` + where
	agent, err := scanAgent(d.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent by identity: %w", err)
	}
	return agent, nil
}

// GetAgentPhoneNumberSID returns the provider sid held for the agent's
// number, needed to release it on deprovision.
func (d *Database) GetAgentPhoneNumberSID(ctx context.Context, agentID string) (string, error) {
	var sid sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT phone_number_sid FROM agent_channels WHERE agent_id = ?`, agentID).Scan(&sid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get phone number sid: %w", err)
	}
	return fromNull(sid), nil
}

// MarkAgentDeprovisioned sets the terminal status and clears released
// identities.
func (d *Database) MarkAgentDeprovisioned(ctx context.Context, agentID string) error {
	query := `
		UPDATE agent_channels
		SET status = ?, phone_number = NULL, phone_number_sid = NULL,
		    whatsapp_sender_sid = NULL, whatsapp_status = NULL
		WHERE agent_id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, models.AgentDeprovisioned, agentID); err != nil {
		return fmt.Errorf("failed to deprovision agent: %w", err)
	}
	return nil
}

// ListAgents returns all agents in the org.
func (d *Database) ListAgents(ctx context.Context, orgID string) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_channels WHERE org_id = ? ORDER BY created_at`
	rows, err := d.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CountActiveAgents reports currently active agents for the gauge.
func (d *Database) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_channels WHERE status = ?`, models.AgentActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return n, nil
}

// UpdateAgentWhatsApp records the WhatsApp assignment outcome after the
// agent row was committed.
func (d *Database) UpdateAgentWhatsApp(ctx context.Context, agentID, senderSID, status string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE agent_channels SET whatsapp_sender_sid = ?, whatsapp_status = ? WHERE agent_id = ?`,
		nullString(senderSID), status, agentID)
	if err != nil {
		return fmt.Errorf("failed to update whatsapp assignment: %w", err)
	}
	return nil
}

// AgentExists is a cheap existence check used by provisioning preconditions.
func (d *Database) AgentExists(ctx context.Context, agentID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM agent_channels WHERE agent_id = ?`, agentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check agent existence: %w", err)
	}
	return true, nil
}
