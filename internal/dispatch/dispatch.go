// Package dispatch orchestrates outbound sends and the inbound webhook
// pipeline. The outbound order is fixed: auth precondition, agent lookup,
// sanitize, compliance, rate limit, sender selection, provider call, then
// ledger/audit/metrics. Failures after the provider boundary dead-letter.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agentgate/internal/alerts"
	"agentgate/internal/auth"
	"agentgate/internal/compliance"
	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/metrics"
	"agentgate/internal/models"
	"agentgate/internal/ratelimit"
	"agentgate/internal/routing"
	"agentgate/internal/sanitize"
	"agentgate/internal/session"
	"agentgate/pkg/emailapi"
	"agentgate/pkg/lineapi"
	"agentgate/pkg/storage"
	"agentgate/pkg/tts"
	"agentgate/pkg/twilio"
)

// Providers bundles the adapter set the dispatcher drives.
type Providers struct {
	Telephony twilio.Client
	Email     emailapi.Client
	Line      lineapi.Client
	TTS       tts.Client
	Storage   *storage.Store
}

// Options carries deployment defaults.
type Options struct {
	WebhookBaseURL  string
	EmailDomain     string
	DefaultGreeting string
	DefaultVoice    string
	DefaultLanguage string
	AlertWhatsAppTo string
	AlertEmailTo    string
	AlertFrom       string
}

// Dispatcher runs the outbound and inbound pipelines.
type Dispatcher struct {
	db        *database.Database
	gate      *compliance.Gate
	limiter   *ratelimit.Limiter
	selector  *routing.Selector
	sessions  *session.Registry
	metrics   *metrics.Metrics
	alerts    *alerts.Service
	providers Providers
	opts      Options
	logger    *logrus.Logger
}

// New wires the dispatcher.
func New(db *database.Database, gate *compliance.Gate, limiter *ratelimit.Limiter,
	selector *routing.Selector, sessions *session.Registry, m *metrics.Metrics,
	alertSvc *alerts.Service, providers Providers, opts Options, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		db:        db,
		gate:      gate,
		limiter:   limiter,
		selector:  selector,
		sessions:  sessions,
		metrics:   m,
		alerts:    alertSvc,
		providers: providers,
		opts:      opts,
		logger:    logger,
	}
}

// Send runs the outbound pipeline for SMS, WhatsApp, email, and LINE.
func (d *Dispatcher) Send(ctx context.Context, principal *models.Principal, req *models.SendRequest) (*models.SendResponse, error) {
	if err := auth.RequireAgent(principal, req.AgentID); err != nil {
		return nil, err
	}
	if !models.IsValidChannel(string(req.Channel)) {
		return nil, apperrors.BadInput("channel", "unknown channel")
	}

	agent, err := d.activeAgent(ctx, principal, req.AgentID, req.Channel)
	if err != nil {
		return nil, err
	}

	body, err := sanitize.Body(req.Body)
	if err != nil {
		return nil, err
	}
	if err := sanitize.Destination(req.Channel, req.To); err != nil {
		return nil, err
	}
	subject := ""
	if req.Channel == models.ChannelEmail {
		if subject, err = sanitize.Subject(req.Subject); err != nil {
			return nil, err
		}
	}

	if _, err := d.gate.Check(ctx, agent.OrgID, req.Channel, req.To, body, req.Timezone); err != nil {
		return nil, err
	}

	if err := d.limiter.Check(ctx, agent.AgentID); err != nil {
		if apperrors.Is(err, apperrors.KindRateLimited) {
			d.metrics.RateLimited.Inc()
		}
		return nil, err
	}

	from, err := d.resolveSender(ctx, agent, req.To, req.Channel)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, constants.SendTimeout)
	defer cancel()

	externalID, status, cost, sendErr := d.providerSend(sendCtx, from, body, subject, req)
	if sendErr != nil {
		d.metrics.SendFailures.WithLabelValues(string(req.Channel)).Inc()
		d.deadLetterOutbound(ctx, agent, req, from, sendErr)
		return nil, apperrors.ProviderError(providerName(req.Channel), sendErr)
	}

	d.recordSuccess(ctx, agent, "send_message", string(req.Channel), req.To, cost, externalID)
	d.metrics.MessagesSent.WithLabelValues(string(req.Channel)).Inc()

	return &models.SendResponse{
		Success:    true,
		ExternalID: externalID,
		From:       from,
		To:         req.To,
		Status:     status,
		Cost:       cost,
	}, nil
}

// MakeCall starts a voice call. With a Message, the greeting is synthesized
// and played; otherwise an AI session is registered and the provider fetches
// its configuration from the outbound-voice webhook.
func (d *Dispatcher) MakeCall(ctx context.Context, principal *models.Principal, req *models.CallRequest) (*models.SendResponse, error) {
	if err := auth.RequireAgent(principal, req.AgentID); err != nil {
		return nil, err
	}

	agent, err := d.activeAgent(ctx, principal, req.AgentID, models.ChannelVoice)
	if err != nil {
		return nil, err
	}
	if err := sanitize.Destination(models.ChannelVoice, req.To); err != nil {
		return nil, err
	}
	if req.Message != "" {
		if _, err := sanitize.Body(req.Message); err != nil {
			return nil, err
		}
	}

	if _, err := d.gate.Check(ctx, agent.OrgID, models.ChannelVoice, req.To, req.Message, req.Timezone); err != nil {
		return nil, err
	}
	if err := d.limiter.Check(ctx, agent.AgentID); err != nil {
		if apperrors.Is(err, apperrors.KindRateLimited) {
			d.metrics.RateLimited.Inc()
		}
		return nil, err
	}

	from, err := d.resolveSender(ctx, agent, req.To, models.ChannelVoice)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, constants.VoiceInitiateTimeout)
	defer cancel()

	var webhookURL string
	var ttsCost float64
	if req.Message != "" {
		audio, cost, synthErr := d.providers.TTS.Synthesize(callCtx, req.Message, d.voiceFor(agent, req))
		if synthErr != nil {
			d.deadLetterCall(ctx, agent, req, from, synthErr)
			return nil, apperrors.ProviderError("tts", synthErr)
		}
		audioURL, putErr := d.providers.Storage.Put(storage.NewKey(), audio)
		if putErr != nil {
			d.deadLetterCall(ctx, agent, req, from, putErr)
			return nil, apperrors.ProviderError("storage", putErr)
		}
		ttsCost = cost
		webhookURL = fmt.Sprintf("%s/webhooks/%s/play?audio=%s", d.opts.WebhookBaseURL, agent.AgentID, audioURL)
	} else {
		sess := &models.VoiceSession{
			SessionID:    uuid.NewString(),
			AgentID:      agent.AgentID,
			SystemPrompt: firstNonEmpty(req.SystemPrompt, agent.SystemPrompt),
			Greeting:     firstNonEmpty(req.Greeting, agent.Greeting, d.opts.DefaultGreeting),
			Voice:        d.voiceFor(agent, req),
			Language:     firstNonEmpty(req.Language, d.opts.DefaultLanguage),
		}
		d.sessions.Put(sess)
		webhookURL = fmt.Sprintf("%s/webhooks/%s/outbound-voice?session=%s", d.opts.WebhookBaseURL, agent.AgentID, sess.SessionID)
	}

	result, callErr := d.providers.Telephony.MakeCall(callCtx, from, req.To, webhookURL)
	if callErr != nil {
		d.metrics.SendFailures.WithLabelValues(string(models.ChannelVoice)).Inc()
		d.deadLetterCall(ctx, agent, req, from, callErr)
		return nil, apperrors.ProviderError("twilio", callErr)
	}

	if err := d.db.InsertCallLog(ctx, &models.CallLog{
		ID:          uuid.NewString(),
		AgentID:     agent.AgentID,
		CallSID:     result.ExternalID,
		Direction:   models.DirectionOutbound,
		FromAddress: from,
		ToAddress:   req.To,
		Status:      models.CallPending,
		OrgID:       agent.OrgID,
	}); err != nil {
		d.logger.WithError(err).Error("failed to insert call log")
	}

	d.recordSuccess(ctx, agent, "make_call", string(models.ChannelVoice), req.To, result.Cost+ttsCost, result.ExternalID)
	d.metrics.MessagesSent.WithLabelValues(string(models.ChannelVoice)).Inc()

	return &models.SendResponse{
		Success:    true,
		ExternalID: result.ExternalID,
		From:       from,
		To:         req.To,
		Status:     models.CallPending,
		Cost:       result.Cost + ttsCost,
	}, nil
}

// TransferCall redirects an in-progress call to a phone number or to
// another agent's number.
func (d *Dispatcher) TransferCall(ctx context.Context, principal *models.Principal, req *models.TransferRequest) error {
	if err := auth.RequireAgent(principal, req.AgentID); err != nil {
		return err
	}
	agent, err := d.activeAgent(ctx, principal, req.AgentID, models.ChannelVoice)
	if err != nil {
		return err
	}

	call, err := d.db.GetCallBySID(ctx, req.CallSID, agent.OrgID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if call == nil {
		return apperrors.NotFound("call")
	}

	target := req.To
	if !sanitize.IsE164(target) {
		// Treat the target as an agent id within the same org.
		other, err := d.db.GetAgent(ctx, target, agent.OrgID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if other == nil || other.PhoneNumber == "" {
			return apperrors.BadInput("to", "transfer target is neither E.164 nor an agent with a number")
		}
		target = other.PhoneNumber
	}

	transferCtx, cancel := context.WithTimeout(ctx, constants.SendTimeout)
	defer cancel()
	if err := d.providers.Telephony.TransferCall(transferCtx, req.CallSID, target); err != nil {
		d.metrics.SendFailures.WithLabelValues(string(models.ChannelVoice)).Inc()
		d.deadLetterTransfer(ctx, agent, req, call.FromAddress, target, err)
		return apperrors.ProviderError("twilio", err)
	}

	if err := d.db.SetCallTransfer(ctx, req.CallSID, target); err != nil {
		d.logger.WithError(err).Error("failed to record call transfer")
	}
	d.audit(ctx, agent, "call_transferred", req.CallSID, fmt.Sprintf(`{"to":%q}`, target))
	return nil
}

// NotifyAdmin implements alerts.Notifier: critical alerts reach the
// configured admin over WhatsApp and email, best effort.
func (d *Dispatcher) NotifyAdmin(ctx context.Context, subject, body string) error {
	var firstErr error
	if d.opts.AlertWhatsAppTo != "" {
		_, err := d.providers.Telephony.SendWhatsApp(ctx, d.opts.AlertFrom, d.opts.AlertWhatsAppTo,
			subject+": "+body, "", nil, "")
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.opts.AlertEmailTo != "" {
		_, err := d.providers.Email.Send(ctx, &emailapi.SendRequest{
			From:    "alerts@" + d.opts.EmailDomain,
			To:      d.opts.AlertEmailTo,
			Subject: subject,
			Text:    body,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) activeAgent(ctx context.Context, principal *models.Principal, agentID string, channel models.Channel) (*models.Agent, error) {
	agent, err := d.db.GetAgent(ctx, agentID, principal.OrgID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if agent == nil {
		return nil, apperrors.NotFound("agent")
	}
	if agent.Status != models.AgentActive {
		return nil, apperrors.Conflict("agent is not active")
	}
	if agent.ChannelBlocked(channel) {
		return nil, apperrors.ComplianceDenied("channel is blocked for this agent")
	}
	return agent, nil
}

func (d *Dispatcher) resolveSender(ctx context.Context, agent *models.Agent, to string, channel models.Channel) (string, error) {
	switch channel {
	case models.ChannelWhatsApp:
		if agent.WhatsAppSenderSID == "" {
			return "", apperrors.Conflict("agent has no WhatsApp sender assigned")
		}
		return agent.WhatsAppSenderSID, nil
	case models.ChannelEmail:
		if agent.EmailAddress == "" {
			return "", apperrors.Conflict("agent has no email address")
		}
		return agent.EmailAddress, nil
	case models.ChannelLine:
		return agent.AgentID, nil
	default:
		from, err := d.selector.ResolveFrom(ctx, agent.PhoneNumber, to, channel, agent.OrgID)
		if err != nil {
			return "", apperrors.Internal(err)
		}
		if from == "" {
			return "", apperrors.Conflict("no_sender: no sending number selectable")
		}
		return from, nil
	}
}

func (d *Dispatcher) providerSend(ctx context.Context, from, body, subject string, req *models.SendRequest) (externalID, status string, cost float64, err error) {
	switch req.Channel {
	case models.ChannelSMS:
		result, sendErr := d.providers.Telephony.SendSMS(ctx, from, req.To, body, req.MediaURL)
		if sendErr != nil {
			return "", "", 0, sendErr
		}
		return result.ExternalID, result.Status, result.Cost, nil
	case models.ChannelWhatsApp:
		result, sendErr := d.providers.Telephony.SendWhatsApp(ctx, from, req.To, body, req.TemplateID, req.TemplateVars, req.MediaURL)
		if sendErr != nil {
			return "", "", 0, sendErr
		}
		return result.ExternalID, result.Status, result.Cost, nil
	case models.ChannelEmail:
		result, sendErr := d.providers.Email.Send(ctx, &emailapi.SendRequest{
			From:    from,
			To:      req.To,
			Subject: subject,
			Text:    body,
			HTML:    req.HTML,
		})
		if sendErr != nil {
			return "", "", 0, sendErr
		}
		return result.ExternalID, "sent", result.Cost, nil
	case models.ChannelLine:
		result, sendErr := d.providers.Line.Push(ctx, req.To, body)
		if sendErr != nil {
			return "", "", 0, sendErr
		}
		return result.ExternalID, "sent", result.Cost, nil
	default:
		return "", "", 0, fmt.Errorf("channel %s has no outbound provider", req.Channel)
	}
}

// recordSuccess writes the usage row, audit entry, and active-agent gauge
// refresh after a successful provider call. Ledger failures are logged, not
// surfaced: the message is already sent.
func (d *Dispatcher) recordSuccess(ctx context.Context, agent *models.Agent, action, channel, to string, cost float64, externalID string) {
	// The ledger carries the billable amount, not the raw provider rate.
	if billing, err := d.db.GetBillingConfig(ctx, agent.AgentID); err != nil {
		d.logger.WithError(err).Error("failed to load billing config, recording unmarked cost")
	} else if billing.MarkupPercent > 0 {
		cost *= 1 + billing.MarkupPercent/100
	}
	if err := d.db.InsertUsage(ctx, &models.UsageLog{
		AgentID:       agent.AgentID,
		ActionType:    action,
		Channel:       channel,
		TargetAddress: to,
		Cost:          cost,
		ExternalID:    externalID,
		OrgID:         agent.OrgID,
	}); err != nil {
		d.logger.WithError(err).Error("failed to write usage log")
	}
	d.audit(ctx, agent, "message_sent", to, fmt.Sprintf(`{"channel":%q,"external_id":%q}`, channel, externalID))
}

func (d *Dispatcher) audit(ctx context.Context, agent *models.Agent, eventType, target, details string) {
	if err := d.db.AppendAudit(ctx, &models.AuditEntry{
		EventType: eventType,
		Actor:     agent.AgentID,
		Target:    target,
		Details:   details,
		OrgID:     agent.OrgID,
	}); err != nil {
		d.logger.WithError(err).Error("failed to append audit entry")
	}
}

func (d *Dispatcher) deadLetterOutbound(ctx context.Context, agent *models.Agent, req *models.SendRequest, from string, cause error) {
	original, _ := json.Marshal(req)
	d.enqueueDeadLetter(ctx, &models.DeadLetter{
		ID:              uuid.NewString(),
		AgentID:         agent.AgentID,
		OrgID:           agent.OrgID,
		Channel:         string(req.Channel),
		Direction:       models.DirectionOutbound,
		Reason:          "send_failed",
		FromAddress:     from,
		ToAddress:       req.To,
		Body:            req.Body,
		MediaURL:        req.MediaURL,
		OriginalRequest: string(original),
		ErrorDetails:    cause.Error(),
	})
}

func (d *Dispatcher) deadLetterCall(ctx context.Context, agent *models.Agent, req *models.CallRequest, from string, cause error) {
	original, _ := json.Marshal(req)
	d.enqueueDeadLetter(ctx, &models.DeadLetter{
		ID:              uuid.NewString(),
		AgentID:         agent.AgentID,
		OrgID:           agent.OrgID,
		Channel:         string(models.ChannelVoice),
		Direction:       models.DirectionOutbound,
		Reason:          "send_failed",
		FromAddress:     from,
		ToAddress:       req.To,
		Body:            req.Message,
		OriginalRequest: string(original),
		ErrorDetails:    cause.Error(),
	})
}

func (d *Dispatcher) deadLetterTransfer(ctx context.Context, agent *models.Agent, req *models.TransferRequest, from, target string, cause error) {
	original, _ := json.Marshal(req)
	d.enqueueDeadLetter(ctx, &models.DeadLetter{
		ID:              uuid.NewString(),
		AgentID:         agent.AgentID,
		OrgID:           agent.OrgID,
		Channel:         string(models.ChannelVoice),
		Direction:       models.DirectionOutbound,
		Reason:          "send_failed",
		FromAddress:     from,
		ToAddress:       target,
		OriginalRequest: string(original),
		ErrorDetails:    cause.Error(),
		ExternalID:      req.CallSID,
	})
}

func (d *Dispatcher) enqueueDeadLetter(ctx context.Context, dl *models.DeadLetter) {
	if err := d.db.InsertDeadLetter(ctx, dl); err != nil {
		d.logger.WithError(err).Error("failed to enqueue dead letter")
		d.alerts.Raise(ctx, alerts.SeverityHigh, "dead_letter_write_failed", err.Error())
		return
	}
	d.metrics.DeadLetters.WithLabelValues(dl.Direction).Inc()
}

func (d *Dispatcher) voiceFor(agent *models.Agent, req *models.CallRequest) string {
	return firstNonEmpty(req.Voice, agent.VoiceID, d.opts.DefaultVoice)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func providerName(channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return "email"
	case models.ChannelLine:
		return "line"
	default:
		return "twilio"
	}
}
