package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *serverFixture) postTwilioForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.PostForm = form
	req.Header.Set("X-Twilio-Signature", "mock-signature")
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func smsForm(sid, from, to, body string) url.Values {
	return url.Values{
		"MessageSid": {sid},
		"From":       {from},
		"To":         {to},
		"Body":       {body},
	}
}

func TestSMSWebhookSignatureRejected(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedAgent(t, "agent-1", "https://unreachable.example.com/hook")
	f.telephony.SignatureOK = false

	rec := f.postTwilioForm("/webhooks/agent-1/sms",
		smsForm("SM-forged", "+12125550123", "+14155550100", "forged"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A rejected webhook must leave no trace: nothing queued for the agent.
	rec = f.do(http.MethodGet, "/api/v1/messages?agent_id=agent-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestSMSWebhookForwardsOnce(t *testing.T) {
	f := newServerFixture(t, nil)

	var hits atomic.Int32
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(callback.Close)
	f.seedAgent(t, "agent-1", callback.URL)

	form := smsForm("SM-1", "+12125550123", "+14155550100", "hello")
	rec := f.postTwilioForm("/webhooks/agent-1/sms", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response></Response>")

	require.Eventually(t, func() bool { return hits.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	// Same MessageSid again: answered success, never forwarded twice.
	rec = f.postTwilioForm("/webhooks/agent-1/sms", form)
	require.Equal(t, http.StatusOK, rec.Code)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSMSWebhookAnsweredBeforeCallback(t *testing.T) {
	f := newServerFixture(t, nil)

	release := make(chan struct{})
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		callback.Close()
	})
	f.seedAgent(t, "agent-1", callback.URL)

	// The carrier response returns while the agent callback is still blocked.
	rec := f.postTwilioForm("/webhooks/agent-1/sms",
		smsForm("SM-slow", "+12125550123", "+14155550100", "hello"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSMSWebhookUnknownRecipient(t *testing.T) {
	f := newServerFixture(t, nil)
	rec := f.postTwilioForm("/webhooks/nobody/sms",
		smsForm("SM-2", "+12125550123", "+19999999999", "hello"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOfflineAgentDeadLettersAndDrains(t *testing.T) {
	f := newServerFixture(t, nil)

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(callback.Close)
	f.seedAgent(t, "agent-1", callback.URL)

	rec := f.postTwilioForm("/webhooks/agent-1/sms",
		smsForm("SM-3", "+12125550123", "+14155550100", "urgent"))
	require.Equal(t, http.StatusOK, rec.Code)

	// The failed forward lands in the dead-letter buffer.
	var resp struct {
		Count    int `json:"count"`
		Messages []struct {
			Reason string `json:"reason"`
			Body   string `json:"body"`
		} `json:"messages"`
	}
	require.Eventually(t, func() bool {
		r := f.do(http.MethodGet, "/api/v1/messages?agent_id=agent-1", "", nil)
		if r.Code != http.StatusOK {
			return false
		}
		resp.Count = 0
		resp.Messages = nil
		if err := json.Unmarshal(r.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Count == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "agent_offline", resp.Messages[0].Reason)
	require.Equal(t, "urgent", resp.Messages[0].Body)

	// Fetch acknowledged: the drain is single-shot.
	rec = f.do(http.MethodGet, "/api/v1/messages?agent_id=agent-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Zero(t, second.Count)
}

func TestVoiceWebhookGreetsAndLogsCall(t *testing.T) {
	f := newServerFixture(t, nil)
	agent := f.seedAgent(t, "agent-1", "")

	form := url.Values{
		"CallSid": {"CA-inbound-1"},
		"From":    {"+12125550123"},
		"To":      {agent.PhoneNumber},
	}
	rec := f.postTwilioForm("/webhooks/agent-1/voice", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Say>")

	call, err := f.db.GetCallBySID(context.Background(), "CA-inbound-1", agent.OrgID)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "inbound", call.Direction)
}

func TestStatusWebhookUpdatesCall(t *testing.T) {
	f := newServerFixture(t, nil)
	agent := f.seedAgent(t, "agent-1", "")

	f.postTwilioForm("/webhooks/agent-1/voice", url.Values{
		"CallSid": {"CA-done"},
		"From":    {"+12125550123"},
		"To":      {agent.PhoneNumber},
	})
	rec := f.postTwilioForm("/webhooks/agent-1/status", url.Values{
		"CallSid":      {"CA-done"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	call, err := f.db.GetCallBySID(context.Background(), "CA-done", agent.OrgID)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "completed", call.Status)
	assert.Equal(t, 42, call.DurationSeconds)
}

func TestEmailWebhookRoutesByAlias(t *testing.T) {
	f := newServerFixture(t, nil)

	var hits atomic.Int32
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(callback.Close)
	f.seedAgent(t, "agent-1", callback.URL)

	payload := `{"type":"email.received","data":{"email_id":"em-1","from":"human@example.com",` +
		`"to":["agent-1@agents.example.com"],"subject":"hi","text":"hello agent"}}`
	rec := f.do(http.MethodPost, "/webhooks/agent-1/email", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return hits.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestLineWebhookRoutesByAgentID(t *testing.T) {
	f := newServerFixture(t, nil)

	var hits atomic.Int32
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(callback.Close)
	f.seedAgent(t, "agent-1", callback.URL)

	payload := `{"events":[{"type":"message","source":{"userId":"U123"},` +
		`"message":{"id":"ln-1","type":"text","text":"konnichiwa"}}]}`
	rec := f.do(http.MethodPost, "/webhooks/agent-1/line", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return hits.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestOutboundVoicePickup(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedAgent(t, "agent-1", "")
	f.seedPool(t)

	// Start the AI call through the REST surface; the dispatcher parks a
	// session for the pickup webhook.
	rec := f.do(http.MethodPost, "/api/v1/make-call",
		`{"agent_id":"agent-1","to":"+12125550123","greeting":"Good afternoon"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.telephony.Calls, 1)

	require.Equal(t, 1, f.server.sessions.Len())

	rec = f.do(http.MethodPost, "/webhooks/agent-1/outbound-voice?session=does-not-exist", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}
