package dispatch

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/alerts"
	"agentgate/internal/compliance"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/metrics"
	"agentgate/internal/models"
	"agentgate/internal/ratelimit"
	"agentgate/internal/routing"
	"agentgate/internal/session"
	"agentgate/pkg/emailapi"
	"agentgate/pkg/lineapi"
	"agentgate/pkg/storage"
	"agentgate/pkg/tts"
	"agentgate/pkg/twilio"
)

type fixture struct {
	dispatcher *Dispatcher
	db         *database.Database
	telephony  *twilio.MockClient
	email      *emailapi.MockClient
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "dispatch.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := storage.NewStore(t.TempDir(), "https://gateway.example.com")
	require.NoError(t, err)

	gate := compliance.NewGate(db, logger)
	// Mid-day everywhere the tests dial, so the contact-hours gate passes.
	gate.SetClock(func() time.Time { return time.Date(2026, 6, 15, 15, 0, 0, 0, time.UTC) })
	m := metrics.New()
	telephony := twilio.NewMockClient()
	email := emailapi.NewMockClient()

	d := New(db, gate, ratelimit.NewLimiter(db), routing.NewSelector(db),
		session.NewRegistry(10*time.Minute), m,
		alerts.NewService(db, m, nil, logger),
		Providers{
			Telephony: telephony,
			Email:     email,
			Line:      lineapi.NewMockClient(),
			TTS:       tts.NewMockClient(),
			Storage:   store,
		},
		Options{
			WebhookBaseURL:  "https://gateway.example.com",
			EmailDomain:     "agents.example.com",
			DefaultGreeting: "Hello!",
			DefaultVoice:    "nova",
			DefaultLanguage: "en",
		}, logger)
	return &fixture{dispatcher: d, db: db, telephony: telephony, email: email}
}

func (f *fixture) seedAgent(t *testing.T, agentID, callbackURL string, blocked []string) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		AgentID:           agentID,
		DisplayName:       "Bot",
		PhoneNumber:       "+14155550100",
		EmailAddress:      agentID + "@agents.example.com",
		WhatsAppSenderSID: "WA-" + agentID,
		CallbackURL:       callbackURL,
		BlockedChannels:   blocked,
		Status:            models.AgentActive,
		OrgID:             "org-a",
	}
	ctx := context.Background()
	require.NoError(t, f.db.WithTx(ctx, func(tx *sql.Tx) error {
		return f.db.InsertAgent(ctx, tx, agent, "PN-"+agentID)
	}))
	return agent
}

func (f *fixture) seedPool(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+18452514056", CountryCode: "US",
		Capabilities: []string{"sms", "voice"}, IsDefault: true, OrgID: "org-a",
	}))
	require.NoError(t, f.db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+97243760273", CountryCode: "IL",
		Capabilities: []string{"sms", "voice"}, OrgID: "org-a",
	}))
}

func agentPrincipal(agentID string) *models.Principal {
	return &models.Principal{OrgID: "org-a", AgentID: agentID, Scopes: []models.Scope{models.ScopeAgent}}
}

func TestSendSMSCountryRouting(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)

	resp, err := f.dispatcher.Send(context.Background(), agentPrincipal("agent-a"), &models.SendRequest{
		AgentID:  "agent-a",
		Channel:  models.ChannelSMS,
		To:       "+972502629999",
		Body:     "hello",
		Timezone: "Asia/Jerusalem",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "+97243760273", resp.From)
	assert.Equal(t, "+972502629999", resp.To)

	// Usage row written on success.
	count, err := f.db.CountUsageSince(context.Background(), "agent-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendDNCBlockedNoUsage(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)
	ctx := context.Background()

	require.NoError(t, f.db.AddDNCEntry(ctx, &models.DNCEntry{
		PhoneNumber: "+15559999999", Reason: "opt-out", AddedBy: "admin", OrgID: "org-a",
	}))

	_, err := f.dispatcher.Send(ctx, agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelSMS,
		To: "+15559999999", Body: "hi", Timezone: "America/Chicago",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))
	assert.Contains(t, apperrors.As(err).Reason, "Do Not Contact")

	count, err := f.db.CountUsageSince(ctx, "agent-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendProviderFailureDeadLetters(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)
	f.telephony.FailSendSMS = true
	ctx := context.Background()

	_, err := f.dispatcher.Send(ctx, agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelSMS,
		To: "+18001234567", Body: "hello", Timezone: "America/New_York",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindProviderError, apperrors.KindOf(err))

	// Exactly one dead letter, no usage row.
	letters, err := f.db.FetchDeadLetters(ctx, "agent-a", "", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "send_failed", letters[0].Reason)
	assert.Equal(t, models.DirectionOutbound, letters[0].Direction)
	assert.NotEmpty(t, letters[0].OriginalRequest)

	count, err := f.db.CountUsageSince(ctx, "agent-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendBlockedChannel(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", []string{"sms"})
	f.seedPool(t)

	_, err := f.dispatcher.Send(context.Background(), agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelSMS,
		To: "+18001234567", Body: "hello", Timezone: "America/New_York",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))
}

func TestSendWildcardBlock(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", []string{"*"})

	_, err := f.dispatcher.Send(context.Background(), agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelEmail,
		To: "user@example.com", Body: "hello", Subject: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindComplianceDenied, apperrors.KindOf(err))
}

func TestSendCrossTenantDenied(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)

	other := &models.Principal{OrgID: "org-b", AgentID: "agent-b", Scopes: []models.Scope{models.ScopeAdmin}}
	_, err := f.dispatcher.Send(context.Background(), other, &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelSMS,
		To: "+18001234567", Body: "hello",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestSendEmail(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)

	resp, err := f.dispatcher.Send(context.Background(), agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelEmail,
		To: "user@example.com", Body: "Your invoice is attached.", Subject: "Invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-a@agents.example.com", resp.From)
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, "Invoice", f.email.Sent[0].Subject)
}

func TestSendEmailRequiresSubject(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)

	_, err := f.dispatcher.Send(context.Background(), agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelEmail,
		To: "user@example.com", Body: "Your invoice is attached.", Subject: "   ",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
	assert.Empty(t, f.email.Sent)
}

func TestSendAppliesBillingMarkup(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)
	ctx := context.Background()

	require.NoError(t, f.db.SetBillingConfig(ctx, &models.BillingConfig{
		AgentID: "agent-a", Tier: models.TierPro, MarkupPercent: 100,
	}))

	resp, err := f.dispatcher.Send(ctx, agentPrincipal("agent-a"), &models.SendRequest{
		AgentID: "agent-a", Channel: models.ChannelSMS,
		To: "+18001234567", Body: "hello", Timezone: "America/New_York",
	})
	require.NoError(t, err)

	// The ledger carries provider cost plus the configured markup.
	spend, err := f.db.SumSpendSince(ctx, "agent-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, resp.Cost*2, spend, 1e-9)
}

func TestMakeCallWritesCallLog(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)
	ctx := context.Background()

	resp, err := f.dispatcher.MakeCall(ctx, agentPrincipal("agent-a"), &models.CallRequest{
		AgentID: "agent-a", To: "+18001234567", Timezone: "America/New_York",
	})
	require.NoError(t, err)
	assert.Equal(t, "+18452514056", resp.From)

	call, err := f.db.GetCallBySID(ctx, resp.ExternalID, "org-a")
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, models.DirectionOutbound, call.Direction)
	assert.Equal(t, models.CallPending, call.Status)
}

func TestTransferFailureDeadLetters(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", nil)
	f.seedPool(t)
	ctx := context.Background()

	resp, err := f.dispatcher.MakeCall(ctx, agentPrincipal("agent-a"), &models.CallRequest{
		AgentID: "agent-a", To: "+18001234567", Timezone: "America/New_York",
	})
	require.NoError(t, err)

	f.telephony.FailTransfer = true
	err = f.dispatcher.TransferCall(ctx, agentPrincipal("agent-a"), &models.TransferRequest{
		AgentID: "agent-a", CallSID: resp.ExternalID, To: "+18005550123",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindProviderError, apperrors.KindOf(err))

	letters, err := f.db.FetchDeadLetters(ctx, "agent-a", string(models.ChannelVoice), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "send_failed", letters[0].Reason)
	assert.Equal(t, models.DirectionOutbound, letters[0].Direction)
	assert.Equal(t, resp.ExternalID, letters[0].ExternalID)
	assert.Equal(t, "+18005550123", letters[0].ToAddress)
	assert.NotEmpty(t, letters[0].OriginalRequest)

	// Only the original call is in the ledger; the failed transfer is not.
	count, err := f.db.CountUsageSince(ctx, "agent-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInboundForwardsToCallback(t *testing.T) {
	f := setup(t)
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f.seedAgent(t, "agent-a", server.URL, nil)

	outcome, err := f.dispatcher.HandleInbound(context.Background(), &models.InboundMessage{
		Channel: models.ChannelSMS, From: "+15551230000", To: "+14155550100",
		Body: "inbound hello", ExternalID: "SM-in-1",
	})
	require.NoError(t, err)
	assert.Equal(t, InboundAccepted, outcome)

	require.Eventually(t, func() bool { return received.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestInboundUnknownRecipient(t *testing.T) {
	f := setup(t)

	outcome, err := f.dispatcher.HandleInbound(context.Background(), &models.InboundMessage{
		Channel: models.ChannelSMS, From: "+15551230000", To: "+10000000000", Body: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, InboundUnknown, outcome)
}

func TestInboundCallbackFailureDeadLetters(t *testing.T) {
	f := setup(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f.seedAgent(t, "agent-a", server.URL, nil)
	ctx := context.Background()

	outcome, err := f.dispatcher.HandleInbound(ctx, &models.InboundMessage{
		Channel: models.ChannelSMS, From: "+15551230000", To: "+14155550100",
		Body: "urgent", ExternalID: "SM-in-2",
	})
	require.NoError(t, err)
	assert.Equal(t, InboundAccepted, outcome)

	require.Eventually(t, func() bool {
		n, countErr := f.db.CountPendingDeadLetters(ctx, "agent-a")
		return countErr == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	letters, err := f.db.FetchDeadLetters(ctx, "agent-a", "", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "agent_offline", letters[0].Reason)
	assert.Equal(t, models.DirectionInbound, letters[0].Direction)
	assert.Equal(t, "urgent", letters[0].Body)
}

func TestInboundInactiveAgentIgnored(t *testing.T) {
	f := setup(t)
	f.seedAgent(t, "agent-a", "", []string{"sms"})

	outcome, err := f.dispatcher.HandleInbound(context.Background(), &models.InboundMessage{
		Channel: models.ChannelSMS, From: "+15551230000", To: "+14155550100", Body: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, InboundIgnored, outcome)
}
