// Package account holds the human login store: bcrypt password checks,
// failed-attempt lockout, and email verification state. No session or UI
// flows live here.
package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
	"agentgate/internal/sanitize"
)

// Service manages user accounts.
type Service struct {
	db     *database.Database
	logger *logrus.Logger
}

// NewService builds the account store.
func NewService(db *database.Database, logger *logrus.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Register creates a pending-review account. The caller still has to verify
// the email and an admin has to approve before login succeeds.
func (s *Service) Register(ctx context.Context, email, password, orgID string) (*models.UserAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !sanitize.IsEmail(email) {
		return nil, apperrors.BadInput("email", "not a valid email address")
	}
	if len(password) < constants.MinPasswordLength {
		return nil, apperrors.BadInput("password", "password too short")
	}
	if orgID == "" {
		return nil, apperrors.BadInput("org_id", "organization is required")
	}

	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if existing != nil {
		return nil, apperrors.Conflict("an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	user := &models.UserAccount{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  string(hash),
		OrgID:         orgID,
		AccountStatus: models.AccountPendingReview,
	}
	if err := s.db.InsertUser(ctx, user); err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

// Login verifies credentials. Five straight failures lock the account for
// fifteen minutes; success resets the counter. The error text never reveals
// whether the email exists.
func (s *Service) Login(ctx context.Context, email, password string) (*models.UserAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if user == nil {
		// Burn a comparison anyway so the timing matches a real account.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, apperrors.AuthDenied("invalid credentials")
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		return nil, apperrors.AuthDenied("account is temporarily locked")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if err := s.db.RecordFailedLogin(ctx, user.ID,
			constants.AccountLockThreshold, constants.AccountLockDuration); err != nil {
			s.logger.WithError(err).Error("failed to record failed login")
		}
		return nil, apperrors.AuthDenied("invalid credentials")
	}

	if !user.Verified {
		return nil, apperrors.AuthDenied("email address not verified")
	}
	if user.AccountStatus != models.AccountApproved {
		return nil, apperrors.AuthDenied("account pending review")
	}

	if err := s.db.ResetFailedLogins(ctx, user.ID); err != nil {
		s.logger.WithError(err).Error("failed to reset login attempts")
	}
	return user, nil
}

// MarkVerified records a successful email-ownership proof, normally after
// an OTP verify against the account's address.
func (s *Service) MarkVerified(ctx context.Context, userID string) error {
	if err := s.db.SetUserVerified(ctx, userID); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// Approve moves a pending account to approved. Admin surface only.
func (s *Service) Approve(ctx context.Context, principal *models.Principal, userID string) error {
	if !principal.IsAdmin() {
		return apperrors.AuthDenied("admin scope required")
	}
	if err := s.db.ApproveUser(ctx, userID); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// dummyHash is compared against when the email is unknown.
var dummyHash = mustHash("not-a-real-password")

func mustHash(s string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}
