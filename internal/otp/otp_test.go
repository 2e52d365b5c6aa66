package otp

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/alerts"
	"agentgate/internal/compliance"
	"agentgate/internal/database"
	"agentgate/internal/dispatch"
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

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func setupService(t *testing.T) (*Service, *database.Database, *twilio.MockClient) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "otp.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := storage.NewStore(t.TempDir(), "https://gateway.example.com")
	require.NoError(t, err)

	m := metrics.New()
	mock := twilio.NewMockClient()
	gate := compliance.NewGate(db, logger)
	gate.SetClock(func() time.Time { return time.Date(2026, 6, 15, 15, 0, 0, 0, time.UTC) })
	dispatcher := dispatch.New(db, gate, ratelimit.NewLimiter(db),
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

	ctx := context.Background()
	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		return db.InsertAgent(ctx, tx, &models.Agent{
			AgentID:     "agent-1",
			DisplayName: "Bot",
			PhoneNumber: "+14155550100",
			Status:      models.AgentActive,
			OrgID:       "org-a",
		}, "PN1")
	}))
	require.NoError(t, db.AddNumberPoolEntry(ctx, &models.NumberPoolEntry{
		PhoneNumber: "+18452514056", CountryCode: "US",
		Capabilities: []string{"sms", "voice"}, IsDefault: true, OrgID: "org-a",
	}))

	return NewService(db, dispatcher, logger), db, mock
}

func principal() *models.Principal {
	return &models.Principal{OrgID: "org-a", AgentID: "agent-1", Scopes: []models.Scope{models.ScopeAgent}}
}

func issueRequest() *IssueRequest {
	return &IssueRequest{
		AgentID:  "agent-1",
		Channel:  "sms",
		To:       "+18001234567",
		Purpose:  "signup",
		Timezone: "America/New_York",
	}
}

func TestIssueAndVerify(t *testing.T) {
	svc, _, mock := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, principal(), issueRequest()))
	require.Len(t, mock.SentSMS, 1)

	match := codePattern.FindStringSubmatch(mock.SentSMS[0].Body)
	require.NotNil(t, match, "sms body carries the code")

	require.NoError(t, svc.Verify(ctx, &VerifyRequest{
		To: "+18001234567", Purpose: "signup", Code: match[1],
	}))

	// Consumed: the same code never verifies twice.
	err := svc.Verify(ctx, &VerifyRequest{
		To: "+18001234567", Purpose: "signup", Code: match[1],
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthDenied, apperrors.KindOf(err))
}

func TestVerifyWrongCodeCountsAttempts(t *testing.T) {
	svc, db, mock := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, principal(), issueRequest()))
	match := codePattern.FindStringSubmatch(mock.SentSMS[0].Body)
	require.NotNil(t, match)

	for i := 0; i < 4; i++ {
		err := svc.Verify(ctx, &VerifyRequest{To: "+18001234567", Purpose: "signup", Code: "000000"})
		require.Error(t, err)
	}
	// Fifth failure destroys the code.
	err := svc.Verify(ctx, &VerifyRequest{To: "+18001234567", Purpose: "signup", Code: "000000"})
	require.Error(t, err)

	rec, err := db.GetOTP(ctx, "+18001234567", "signup")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Even the real code is now useless.
	err = svc.Verify(ctx, &VerifyRequest{To: "+18001234567", Purpose: "signup", Code: match[1]})
	require.Error(t, err)
}

func TestIssueSupersedesPriorCode(t *testing.T) {
	svc, _, mock := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, principal(), issueRequest()))
	require.NoError(t, svc.Issue(ctx, principal(), issueRequest()))
	require.Len(t, mock.SentSMS, 2)

	first := codePattern.FindStringSubmatch(mock.SentSMS[0].Body)
	second := codePattern.FindStringSubmatch(mock.SentSMS[1].Body)
	require.NotNil(t, first)
	require.NotNil(t, second)

	if first[1] != second[1] {
		err := svc.Verify(ctx, &VerifyRequest{To: "+18001234567", Purpose: "signup", Code: first[1]})
		require.Error(t, err, "superseded code must not verify")
	}
	require.NoError(t, svc.Verify(ctx, &VerifyRequest{To: "+18001234567", Purpose: "signup", Code: second[1]}))
}

func TestIssueRejectsUnsupportedChannel(t *testing.T) {
	svc, _, _ := setupService(t)

	req := issueRequest()
	req.Channel = "voice"
	err := svc.Issue(context.Background(), principal(), req)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
}

func TestIssueRequiresPurpose(t *testing.T) {
	svc, _, mock := setupService(t)

	req := issueRequest()
	req.Purpose = ""
	err := svc.Issue(context.Background(), principal(), req)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
	assert.Empty(t, mock.SentSMS)
}

func TestIssueDiscardsCodeOnDeliveryFailure(t *testing.T) {
	svc, db, mock := setupService(t)
	ctx := context.Background()
	mock.FailSendSMS = true

	err := svc.Issue(ctx, principal(), issueRequest())
	require.Error(t, err)

	rec, err := db.GetOTP(ctx, "+18001234567", "signup")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
