package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"agentgate/internal/auth"
	"agentgate/internal/constants"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/httputil"
	"agentgate/internal/models"
	"agentgate/internal/otp"
)

type contextKey string

const principalKey contextKey = "principal"

func withPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func principalFrom(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey).(*models.Principal)
	return p
}

// requirePrincipal authenticates the bearer token and stores the resulting
// principal in the request context.
func (s *Server) requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authSvc.Authenticate(r.Context(), r.Header.Get("Authorization"), httputil.ClientIP(r))
		if err != nil {
			s.metrics.AuthFailures.Inc()
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func decodeBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, constants.MaxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperrors.BadInput("body", "invalid JSON request body")
	}
	return nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
}

func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleStorage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		data, err := s.store.Get(key)
		if err != nil {
			httputil.WriteError(w, apperrors.NotFound("artifact"))
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(data)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp, err := s.dispatcher.Send(r.Context(), principalFrom(r.Context()), &req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleMakeCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CallRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp, err := s.dispatcher.MakeCall(r.Context(), principalFrom(r.Context()), &req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleTransferCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.dispatcher.TransferCall(r.Context(), principalFrom(r.Context()), &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"transferred": true})
	}
}

func (s *Server) handleWaitingMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			limit = atoiDefault(v, 0)
		}
		letters, err := s.drain.Fetch(r.Context(), principalFrom(r.Context()),
			q.Get("agent_id"), q.Get("channel"), limit)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if letters == nil {
			letters = []*models.DeadLetter{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"messages": letters,
			"count":    len(letters),
		})
	}
}

func (s *Server) handleProvision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ProvisionRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := s.provisioner.Provision(r.Context(), principalFrom(r.Context()), &req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		s.refreshActiveAgents(r.Context())
		httputil.WriteJSON(w, http.StatusCreated, result)
	}
}

func (s *Server) handleDeprovision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string `json:"agent_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.provisioner.Deprovision(r.Context(), principalFrom(r.Context()), req.AgentID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		s.refreshActiveAgents(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"deprovisioned": true})
	}
}

func (s *Server) handleUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		agentID := r.URL.Query().Get("agent_id")
		if err := auth.RequireAgent(p, agentID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.requireAgentInOrg(r.Context(), agentID, p.OrgID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		days := atoiDefault(r.URL.Query().Get("days"), 30)
		if days <= 0 {
			days = 30
		}
		summary, err := s.db.GetUsageSummary(r.Context(), agentID, time.Now().AddDate(0, 0, -days))
		if err != nil {
			httputil.WriteError(w, apperrors.Internal(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleBilling() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		agentID := r.URL.Query().Get("agent_id")
		if err := auth.RequireAgent(p, agentID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.requireAgentInOrg(r.Context(), agentID, p.OrgID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		billing, err := s.db.GetBillingConfig(r.Context(), agentID)
		if err != nil {
			httputil.WriteError(w, apperrors.Internal(err))
			return
		}
		limits, err := s.limiter.ResolveLimits(r.Context(), agentID)
		if err != nil {
			httputil.WriteError(w, apperrors.Internal(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"tier":           billing.Tier,
			"markup_percent": billing.MarkupPercent,
			"limits": map[string]interface{}{
				"max_actions_per_minute": limits.MaxActionsPerMinute,
				"max_actions_per_hour":   limits.MaxActionsPerHour,
				"max_actions_per_day":    limits.MaxActionsPerDay,
				"max_spend_per_day":      limits.MaxSpendPerDay,
				"max_spend_per_month":    limits.MaxSpendPerMonth,
			},
		})
	}
}

func (s *Server) handleOTPSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otp.IssueRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.otpSvc.Issue(r.Context(), principalFrom(r.Context()), &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"sent": true})
	}
}

func (s *Server) handleOTPVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otp.VerifyRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.otpSvc.Verify(r.Context(), &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
	}
}

func (s *Server) handleErasure() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		if err := auth.RequireAdmin(p); err != nil {
			httputil.WriteError(w, err)
			return
		}
		var req struct {
			SubjectIdentifier string `json:"subject_identifier"`
			IdentifierType    string `json:"identifier_type"`
		}
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if req.SubjectIdentifier == "" {
			httputil.WriteError(w, apperrors.BadInput("subject_identifier", "subject identifier is required"))
			return
		}
		if req.IdentifierType != "phone" && req.IdentifierType != "email" {
			httputil.WriteError(w, apperrors.BadInput("identifier_type", "identifier type must be phone or email"))
			return
		}
		result, err := s.db.ExecuteErasure(r.Context(), &models.ErasureRequest{
			ID:                uuid.New().String(),
			SubjectIdentifier: req.SubjectIdentifier,
			IdentifierType:    req.IdentifierType,
		})
		if err != nil {
			httputil.WriteError(w, apperrors.Internal(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"id":              result.ID,
			"status":          result.Status,
			"tables_affected": result.TablesAffected,
			"rows_deleted":    result.RowsDeleted,
		})
	}
}

func (s *Server) handleAuditVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.RequireAdmin(principalFrom(r.Context())); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := s.db.VerifyAuditChain(r.Context())
		if err != nil {
			httputil.WriteError(w, apperrors.Internal(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// handleOperations lists the tool table so clients can discover schemas.
func (s *Server) handleOperations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"operations": s.registry.Operations(),
		})
	}
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			OrgID    string `json:"org_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		user, err := s.accounts.Register(r.Context(), req.Email, req.Password, req.OrgID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
			"user_id": user.ID,
			"status":  user.AccountStatus,
		})
	}
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		user, err := s.accounts.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": user.ID,
			"org_id":  user.OrgID,
		})
	}
}

func (s *Server) handleApprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := s.accounts.Approve(r.Context(), principalFrom(r.Context()), req.UserID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"approved": true})
	}
}

func (s *Server) requireAgentInOrg(ctx context.Context, agentID, orgID string) error {
	agent, err := s.db.GetAgent(ctx, agentID, orgID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if agent == nil {
		return apperrors.NotFound("agent")
	}
	return nil
}

func (s *Server) refreshActiveAgents(ctx context.Context) {
	if n, err := s.db.CountActiveAgents(ctx); err == nil {
		s.metrics.ActiveAgents.Set(float64(n))
	}
}

func atoiDefault(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
