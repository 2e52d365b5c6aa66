// Package auth resolves bearer tokens to principals and enforces tenant
// scoping. Tokens are stored hashed; a presented token is hashed and looked
// up, never compared in plaintext.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

// DemoOrgID is the tenant assumed when demo mode injects a synthetic
// principal.
const DemoOrgID = "demo-org"

// Service authenticates requests against the token store.
type Service struct {
	db          *database.Database
	masterToken string
	demoMode    bool
	logger      *logrus.Logger

	mu     sync.Mutex
	checks map[string][]time.Time
}

// NewService builds the auth service. masterToken may be empty only in demo
// mode; config validation enforces this upstream.
func NewService(db *database.Database, masterToken string, demoMode bool, logger *logrus.Logger) *Service {
	return &Service{
		db:          db,
		masterToken: masterToken,
		demoMode:    demoMode,
		logger:      logger,
		checks:      make(map[string][]time.Time),
	}
}

// HashToken returns the hex SHA-256 of a plaintext token; this is the only
// form that reaches storage or lookups.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MintToken generates a new plaintext bearer token. The caller stores only
// its hash and returns the plaintext exactly once.
func MintToken() (string, error) {
	buf := make([]byte, constants.TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Authenticate resolves the Authorization header value to a principal.
// remoteIP feeds the verification throttle; repeated failures from one
// address are refused before any lookup.
func (s *Service) Authenticate(ctx context.Context, authHeader, remoteIP string) (*models.Principal, error) {
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	if token == "" {
		if s.demoMode {
			// Single switch, no per-call escape: demo mode and only demo
			// mode yields a synthetic admin.
			return &models.Principal{
				OrgID:  DemoOrgID,
				Scopes: []models.Scope{models.ScopeAdmin, models.ScopeSuperAdmin},
			}, nil
		}
		return nil, apperrors.AuthDenied("missing bearer token")
	}

	if !s.allowCheck(remoteIP) {
		return nil, apperrors.RateLimited("token_checks_per_minute", time.Now().Add(time.Minute).Format(time.RFC3339))
	}

	if s.masterToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.masterToken)) == 1 {
		return &models.Principal{
			Scopes: []models.Scope{models.ScopeAdmin, models.ScopeSuperAdmin},
		}, nil
	}

	hash := HashToken(token)

	if agentTok, err := s.db.LookupAgentToken(ctx, hash); err != nil {
		return nil, apperrors.Internal(err)
	} else if agentTok != nil {
		agent, err := s.db.GetAgentAnyOrg(ctx, agentTok.AgentID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if agent == nil || agent.Status != models.AgentActive {
			return nil, apperrors.AuthDenied("token refers to an inactive agent")
		}
		return &models.Principal{
			OrgID:   agent.OrgID,
			AgentID: agent.AgentID,
			Scopes:  []models.Scope{models.ScopeAgent},
		}, nil
	}

	if orgTok, err := s.db.LookupOrgToken(ctx, hash); err != nil {
		return nil, apperrors.Internal(err)
	} else if orgTok != nil {
		return &models.Principal{
			OrgID:  orgTok.OrgID,
			Scopes: []models.Scope{models.ScopeAdmin},
		}, nil
	}

	s.logger.WithField("ip", remoteIP).Warn("rejected unknown bearer token")
	return nil, apperrors.AuthDenied("invalid bearer token")
}

// RequireAgent ensures the principal acts as (or on behalf of) agentID.
// Admins may act on any agent in their org; super admins on any agent.
func RequireAgent(p *models.Principal, agentID string) error {
	if p.HasScope(models.ScopeSuperAdmin) {
		return nil
	}
	if p.HasScope(models.ScopeAdmin) {
		return nil
	}
	if p.HasScope(models.ScopeAgent) && p.AgentID == agentID {
		return nil
	}
	return apperrors.AuthDenied("token does not authorize this agent")
}

// RequireAdmin ensures the principal carries admin scope.
func RequireAdmin(p *models.Principal) error {
	if p.IsAdmin() {
		return nil
	}
	return apperrors.AuthDenied("admin scope required")
}

// OrgScope returns the SQL fragment and argument every tenant-scoped query
// must carry. Super admins with no org see everything.
func OrgScope(p *models.Principal) (string, []interface{}) {
	if p.OrgID == "" && p.HasScope(models.ScopeSuperAdmin) {
		return "1 = 1", nil
	}
	return "org_id = ?", []interface{}{p.OrgID}
}

// allowCheck implements the per-IP token verification throttle.
func (s *Service) allowCheck(remoteIP string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	recent := s.checks[remoteIP][:0]
	for _, t := range s.checks[remoteIP] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= constants.MaxTokenChecksPerMinute {
		s.checks[remoteIP] = recent
		return false
	}
	s.checks[remoteIP] = append(recent, now)
	return true
}
