package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/alerts"
	"agentgate/internal/compliance"
	"agentgate/internal/database"
	"agentgate/internal/deadletter"
	"agentgate/internal/dispatch"
	"agentgate/internal/metrics"
	"agentgate/internal/models"
	"agentgate/internal/provision"
	"agentgate/internal/ratelimit"
	"agentgate/internal/routing"
	"agentgate/internal/session"
	"agentgate/pkg/emailapi"
	"agentgate/pkg/lineapi"
	"agentgate/pkg/storage"
	"agentgate/pkg/tts"
	"agentgate/pkg/twilio"
)

func setupRegistry(t *testing.T) (*Registry, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "tools.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := storage.NewStore(t.TempDir(), "https://gateway.example.com")
	require.NoError(t, err)

	m := metrics.New()
	limiter := ratelimit.NewLimiter(db)
	mock := twilio.NewMockClient()
	gate := compliance.NewGate(db, logger)
	gate.SetClock(func() time.Time { return time.Date(2026, 6, 15, 15, 0, 0, 0, time.UTC) })
	dispatcher := dispatch.New(db, gate, limiter,
		routing.NewSelector(db), session.NewRegistry(10*time.Minute), m,
		alerts.NewService(db, m, nil, logger),
		dispatch.Providers{
			Telephony: mock,
			Email:     emailapi.NewMockClient(),
			Line:      lineapi.NewMockClient(),
			TTS:       tts.NewMockClient(),
			Storage:   store,
		},
		dispatch.Options{
			WebhookBaseURL: "https://gateway.example.com",
			EmailDomain:    "agents.example.com",
		}, logger)

	prov := provision.NewService(db, mock, "https://gateway.example.com", "agents.example.com", m, logger)
	return NewRegistry(dispatcher, prov, deadletter.NewService(db), limiter, db), db
}

func seedAgent(t *testing.T, db *database.Database) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		return db.InsertAgent(ctx, tx, &models.Agent{
			AgentID:      "agent-1",
			DisplayName:  "Bot",
			PhoneNumber:  "+14155550100",
			EmailAddress: "agent-1@agents.example.com",
			Status:       models.AgentActive,
			OrgID:        "org-a",
		}, "PN1")
	}))
	require.NoError(t, db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+18452514056", CountryCode: "US",
		Capabilities: []string{"sms", "voice"}, IsDefault: true, OrgID: "org-a",
	}))
}

func agentPrincipal() *models.Principal {
	return &models.Principal{OrgID: "org-a", AgentID: "agent-1", Scopes: []models.Scope{models.ScopeAgent}}
}

func adminPrincipal() *models.Principal {
	return &models.Principal{OrgID: "org-a", Scopes: []models.Scope{models.ScopeAdmin}}
}

func TestCallUnknownOperation(t *testing.T) {
	r, _ := setupRegistry(t)
	result := r.Call(context.Background(), agentPrincipal(), "explode", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not_found")
}

func TestCallMissingRequiredArg(t *testing.T) {
	r, _ := setupRegistry(t)
	result := r.Call(context.Background(), agentPrincipal(), "send_message", map[string]interface{}{
		"agent_id": "agent-1",
		"channel":  "sms",
		// no "to", no "body"
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "bad_input")
}

func TestCallRejectsUnknownArg(t *testing.T) {
	r, _ := setupRegistry(t)
	result := r.Call(context.Background(), agentPrincipal(), "deprovision_agent", map[string]interface{}{
		"agent_id": "agent-1",
		"force":    true,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "bad_input")
}

func TestSendMessageOperation(t *testing.T) {
	r, db := setupRegistry(t)
	seedAgent(t, db)

	result := r.Call(context.Background(), agentPrincipal(), "send_message", map[string]interface{}{
		"agent_id": "agent-1",
		"channel":  "sms",
		"to":       "+18001234567",
		"body":     "hello from the table",
		"timezone": "America/New_York",
	})
	require.False(t, result.IsError, result.Content)

	var resp models.SendResponse
	require.NoError(t, json.Unmarshal([]byte(result.Content), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "+18452514056", resp.From)
}

func TestGetWaitingMessagesOperation(t *testing.T) {
	r, db := setupRegistry(t)
	seedAgent(t, db)
	ctx := context.Background()

	require.NoError(t, db.InsertDeadLetter(ctx, &models.DeadLetter{
		ID: "dl-1", AgentID: "agent-1", OrgID: "org-a",
		Channel: "sms", Direction: models.DirectionInbound, Reason: "agent_offline",
		FromAddress: "+15551230000", ToAddress: "+14155550100", Body: "missed you",
	}))

	result := r.Call(ctx, agentPrincipal(), "get_waiting_messages", map[string]interface{}{
		"agent_id": "agent-1",
		"limit":    float64(10),
	})
	require.False(t, result.IsError, result.Content)

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
	assert.Equal(t, 1, out.Count)

	// Fetch-acknowledge: the second call drains nothing.
	result = r.Call(ctx, agentPrincipal(), "get_waiting_messages", map[string]interface{}{
		"agent_id": "agent-1",
	})
	require.False(t, result.IsError)
	require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
	assert.Zero(t, out.Count)
}

func TestVerifyAuditChainRequiresAdmin(t *testing.T) {
	r, _ := setupRegistry(t)

	result := r.Call(context.Background(), agentPrincipal(), "verify_audit_chain", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "auth_denied")

	result = r.Call(context.Background(), adminPrincipal(), "verify_audit_chain", nil)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, `"valid":true`)
}

func TestGetBillingDefaultsToFreeTier(t *testing.T) {
	r, db := setupRegistry(t)
	seedAgent(t, db)

	result := r.Call(context.Background(), agentPrincipal(), "get_billing", map[string]interface{}{
		"agent_id": "agent-1",
	})
	require.False(t, result.IsError, result.Content)

	var out struct {
		Tier   string `json:"tier"`
		Limits struct {
			MaxActionsPerMinute int `json:"max_actions_per_minute"`
		} `json:"limits"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
	assert.Equal(t, models.TierFree, out.Tier)
	assert.Equal(t, 10, out.Limits.MaxActionsPerMinute)
}

func TestGetUsageCrossAgentDenied(t *testing.T) {
	r, db := setupRegistry(t)
	seedAgent(t, db)

	other := &models.Principal{OrgID: "org-a", AgentID: "agent-2", Scopes: []models.Scope{models.ScopeAgent}}
	result := r.Call(context.Background(), other, "get_usage", map[string]interface{}{
		"agent_id": "agent-1",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "auth_denied")
}

func TestListPoolNumbersOperation(t *testing.T) {
	r, db := setupRegistry(t)
	seedAgent(t, db)

	result := r.Call(context.Background(), adminPrincipal(), "list_pool_numbers", nil)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "+18452514056")
}
