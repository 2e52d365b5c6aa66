// Package provision implements agent provisioning as a saga: each step that
// commits an external or durable side effect registers a compensating
// inverse, and any later failure unwinds the stack in reverse order.
// Partial state is never observable to callers.
package provision

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"agentgate/internal/auth"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/metrics"
	"agentgate/internal/models"
	"agentgate/internal/sanitize"
	"agentgate/pkg/twilio"
)

// Service runs provisioning and deprovisioning sagas.
type Service struct {
	db             *database.Database
	telephony      twilio.Client
	webhookBaseURL string
	emailDomain    string
	metrics        *metrics.Metrics
	logger         *logrus.Logger
}

// NewService wires the saga runner.
func NewService(db *database.Database, telephony twilio.Client, webhookBaseURL, emailDomain string,
	m *metrics.Metrics, logger *logrus.Logger) *Service {
	return &Service{
		db:             db,
		telephony:      telephony,
		webhookBaseURL: webhookBaseURL,
		emailDomain:    emailDomain,
		metrics:        m,
		logger:         logger,
	}
}

// saga collects compensations as steps commit. Compensation errors are
// logged and the unwind continues.
type saga struct {
	logger *logrus.Logger
	undos  []func(context.Context) error
	names  []string
}

func (s *saga) register(name string, undo func(context.Context) error) {
	s.names = append(s.names, name)
	s.undos = append(s.undos, undo)
}

func (s *saga) unwind(ctx context.Context) {
	for i := len(s.undos) - 1; i >= 0; i-- {
		if err := s.undos[i](ctx); err != nil {
			s.logger.WithField("step", s.names[i]).WithError(err).Error("saga compensation failed")
		}
	}
}

// Provision allocates every requested identity for a new agent. On any
// failure, committed side effects are rolled back and the error surfaces;
// on success the plaintext token is returned exactly once.
func (s *Service) Provision(ctx context.Context, principal *models.Principal, req *models.ProvisionRequest) (*models.ProvisionResult, error) {
	if err := auth.RequireAdmin(principal); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	orgID := principal.OrgID
	if orgID == "" {
		return nil, apperrors.BadInput("org", "provisioning requires an organization-scoped principal")
	}

	// Preconditions, checked before any external call.
	exists, err := s.db.AgentExists(ctx, req.AgentID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if exists {
		return nil, apperrors.Conflict("agent already exists")
	}
	pool, err := s.db.GetAgentPool(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if pool.ActiveAgents >= pool.MaxAgents {
		return nil, apperrors.Conflict("agent pool is full")
	}

	sg := &saga{logger: s.logger}
	channels := make(map[string]string)

	// Step 1: buy and configure a number when phone or voice is requested.
	var phoneNumber, phoneSID string
	if req.Capabilities.Phone || req.Capabilities.VoiceAI {
		country := req.Country
		if country == "" {
			country = "US"
		}
		bought, buyErr := s.telephony.BuyNumber(ctx, country, req.Capabilities.Phone, req.Capabilities.VoiceAI)
		if buyErr != nil {
			sg.unwind(ctx)
			return nil, apperrors.ProviderError("twilio", buyErr)
		}
		phoneNumber, phoneSID = bought.PhoneNumber, bought.SID
		sg.register("release_number", func(c context.Context) error {
			return s.telephony.ReleaseNumber(c, phoneSID)
		})

		smsURL := fmt.Sprintf("%s/webhooks/%s/sms", s.webhookBaseURL, req.AgentID)
		voiceURL := fmt.Sprintf("%s/webhooks/%s/voice", s.webhookBaseURL, req.AgentID)
		if cfgErr := s.telephony.ConfigureWebhooks(ctx, phoneSID, smsURL, voiceURL); cfgErr != nil {
			sg.unwind(ctx)
			return nil, apperrors.ProviderError("twilio", cfgErr)
		}
		channels["phone"] = phoneNumber
		if req.Capabilities.VoiceAI {
			channels["voice"] = phoneNumber
		}
	}

	// Step 2: derive the email alias; no external call, no compensation.
	var emailAddress string
	if req.Capabilities.Email {
		emailAddress = deriveEmailLocalPart(req.AgentID) + "@" + s.emailDomain
		channels["email"] = emailAddress
	}

	// Step 3: commit the agent row. A uniqueness violation here means a
	// concurrent provision won the race.
	agent := &models.Agent{
		AgentID:      req.AgentID,
		DisplayName:  req.DisplayName,
		PhoneNumber:  phoneNumber,
		EmailAddress: emailAddress,
		SystemPrompt: req.SystemPrompt,
		Greeting:     req.Greeting,
		CallbackURL:  req.CallbackURL,
		Status:       models.AgentActive,
		OrgID:        orgID,
	}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.db.InsertAgent(ctx, tx, agent, phoneSID)
	})
	if err != nil {
		sg.unwind(ctx)
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, apperrors.Conflict("agent already exists")
		}
		return nil, apperrors.Internal(err)
	}
	sg.register("delete_agent_row", func(c context.Context) error {
		return s.db.DeleteAgent(c, req.AgentID)
	})

	// Step 4: WhatsApp pool assignment; exhaustion is a soft failure.
	if req.Capabilities.WhatsApp {
		entry, waErr := s.db.AssignWhatsAppFromPool(ctx, req.AgentID)
		if waErr != nil {
			sg.unwind(ctx)
			return nil, apperrors.Internal(waErr)
		}
		if entry == nil {
			if updErr := s.db.UpdateAgentWhatsApp(ctx, req.AgentID, "", "unavailable"); updErr != nil {
				sg.unwind(ctx)
				return nil, apperrors.Internal(updErr)
			}
			channels["whatsapp"] = "unavailable"
		} else {
			if updErr := s.db.UpdateAgentWhatsApp(ctx, req.AgentID, entry.SenderSID, "assigned"); updErr != nil {
				sg.unwind(ctx)
				return nil, apperrors.Internal(updErr)
			}
			sg.register("return_whatsapp", func(c context.Context) error {
				return s.db.ReturnWhatsAppToPool(c, req.AgentID)
			})
			channels["whatsapp"] = entry.PhoneNumber
		}
	}

	// Step 5: claim the pool slot with the conditional increment.
	claimed, err := s.db.IncrementAgentPool(ctx)
	if err != nil {
		sg.unwind(ctx)
		return nil, apperrors.Internal(err)
	}
	if !claimed {
		sg.unwind(ctx)
		return nil, apperrors.Conflict("agent pool is full")
	}
	sg.register("decrement_pool", func(c context.Context) error {
		return s.db.DecrementAgentPool(c)
	})

	// Step 6: mint the token; only its hash persists.
	token, err := auth.MintToken()
	if err != nil {
		sg.unwind(ctx)
		return nil, apperrors.Internal(err)
	}
	if err := s.db.InsertAgentToken(ctx, auth.HashToken(token), req.AgentID, "provisioned"); err != nil {
		sg.unwind(ctx)
		return nil, apperrors.Internal(err)
	}
	sg.register("revoke_token", func(c context.Context) error {
		_, revErr := s.db.RevokeAgentTokens(c, req.AgentID)
		return revErr
	})

	// Step 7: seed default spending limits (zeros mean system defaults).
	if err := s.db.SetSpendingLimits(ctx, &models.SpendingLimits{AgentID: req.AgentID}); err != nil {
		sg.unwind(ctx)
		return nil, apperrors.Internal(err)
	}

	// Step 8: audit. Failure here is not worth unwinding a fully
	// provisioned agent; it is logged and surfaced as a warning.
	if err := s.db.AppendAudit(ctx, &models.AuditEntry{
		EventType: "agent_provisioned",
		Actor:     actorOf(principal),
		Target:    req.AgentID,
		Details:   fmt.Sprintf(`{"channels":%d}`, len(channels)),
		OrgID:     orgID,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to audit provisioning")
	}

	if active, countErr := s.db.CountActiveAgents(ctx); countErr == nil {
		s.metrics.ActiveAgents.Set(float64(active))
	}

	poolAfter, err := s.db.GetAgentPool(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	return &models.ProvisionResult{
		AgentID:            req.AgentID,
		Token:              token,
		Channels:           channels,
		PoolSlotsRemaining: poolAfter.MaxAgents - poolAfter.ActiveAgents,
	}, nil
}

// Deprovision is the saga inverted: release the number (non-fatal), return
// WhatsApp to the pool, revoke all tokens, delete spending limits, mark the
// agent terminal, free the pool slot, audit.
func (s *Service) Deprovision(ctx context.Context, principal *models.Principal, agentID string) error {
	if err := auth.RequireAdmin(principal); err != nil {
		return err
	}

	agent, err := s.db.GetAgent(ctx, agentID, principal.OrgID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if agent == nil {
		return apperrors.NotFound("agent")
	}
	if agent.Status == models.AgentDeprovisioned {
		return apperrors.Conflict("agent is already deprovisioned")
	}

	if phoneSID, sidErr := s.db.GetAgentPhoneNumberSID(ctx, agentID); sidErr == nil && phoneSID != "" {
		if relErr := s.telephony.ReleaseNumber(ctx, phoneSID); relErr != nil {
			s.logger.WithField("agent_id", agentID).WithError(relErr).Warn("number release failed, continuing deprovision")
		}
	}

	if err := s.db.ReturnWhatsAppToPool(ctx, agentID); err != nil {
		return apperrors.Internal(err)
	}
	if _, err := s.db.RevokeAgentTokens(ctx, agentID); err != nil {
		return apperrors.Internal(err)
	}
	if err := s.db.DeleteSpendingLimits(ctx, agentID); err != nil {
		return apperrors.Internal(err)
	}
	if err := s.db.MarkAgentDeprovisioned(ctx, agentID); err != nil {
		return apperrors.Internal(err)
	}
	if err := s.db.DecrementAgentPool(ctx); err != nil {
		return apperrors.Internal(err)
	}

	if err := s.db.AppendAudit(ctx, &models.AuditEntry{
		EventType: "agent_deprovisioned",
		Actor:     actorOf(principal),
		Target:    agentID,
		OrgID:     agent.OrgID,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to audit deprovisioning")
	}

	if active, countErr := s.db.CountActiveAgents(ctx); countErr == nil {
		s.metrics.ActiveAgents.Set(float64(active))
	}
	return nil
}

func validateRequest(req *models.ProvisionRequest) error {
	if req.AgentID == "" {
		return apperrors.BadInput("agent_id", "agent_id is required")
	}
	if err := sanitize.Field("agent_id", req.AgentID); err != nil {
		return err
	}
	if strings.ContainsAny(req.AgentID, " @/\\") {
		return apperrors.BadInput("agent_id", "agent_id must not contain spaces or address characters")
	}
	if req.DisplayName == "" {
		return apperrors.BadInput("display_name", "display_name is required")
	}
	if err := sanitize.Field("display_name", req.DisplayName); err != nil {
		return err
	}
	if req.CallbackURL != "" && !strings.HasPrefix(req.CallbackURL, "http") {
		return apperrors.BadInput("callback_url", "callback_url must be an HTTP(S) URL")
	}
	caps := req.Capabilities
	if !caps.Phone && !caps.WhatsApp && !caps.Email && !caps.VoiceAI {
		return apperrors.BadInput("capabilities", "at least one capability is required")
	}
	return nil
}

// deriveEmailLocalPart lowercases the agent id and keeps only characters
// valid in an address local part.
func deriveEmailLocalPart(agentID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(agentID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "agent"
	}
	return b.String()
}

func actorOf(p *models.Principal) string {
	if p.AgentID != "" {
		return p.AgentID
	}
	if p.OrgID != "" {
		return "org:" + p.OrgID
	}
	return "master"
}
