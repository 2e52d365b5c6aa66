// Package deadletter exposes the fetch-acknowledge drain over the parked
// failure buffer. No retry happens here: callers re-drive business logic
// themselves with the returned payloads.
package deadletter

import (
	"context"

	"agentgate/internal/auth"
	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

// Service drains dead letters for agents.
type Service struct {
	db *database.Database
}

// NewService builds the drain.
func NewService(db *database.Database) *Service {
	return &Service{db: db}
}

// Fetch returns up to limit pending letters for the agent, oldest first,
// optionally narrowed to one channel, acknowledging each returned row in
// the same transaction. A second call never sees the same letters.
func (s *Service) Fetch(ctx context.Context, principal *models.Principal, agentID, channel string, limit int) ([]*models.DeadLetter, error) {
	if err := auth.RequireAgent(principal, agentID); err != nil {
		return nil, err
	}
	if channel != "" && !models.IsValidChannel(channel) {
		return nil, apperrors.BadInput("channel", "unknown channel")
	}

	agent, err := s.db.GetAgent(ctx, agentID, principal.OrgID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if agent == nil {
		return nil, apperrors.NotFound("agent")
	}

	if limit <= 0 {
		limit = constants.DefaultWaitingMessageLimit
	}
	if limit > constants.MaxWaitingMessageLimit {
		limit = constants.MaxWaitingMessageLimit
	}

	letters, err := s.db.FetchDeadLetters(ctx, agentID, channel, limit)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return letters, nil
}

// Pending reports the backlog without acknowledging anything.
func (s *Service) Pending(ctx context.Context, principal *models.Principal, agentID string) (int, error) {
	if err := auth.RequireAgent(principal, agentID); err != nil {
		return 0, err
	}
	n, err := s.db.CountPendingDeadLetters(ctx, agentID)
	if err != nil {
		return 0, apperrors.Internal(err)
	}
	return n, nil
}
