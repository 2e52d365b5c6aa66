package account

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

func setupService(t *testing.T) (*Service, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "account.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewService(db, logger), db
}

func registerApproved(t *testing.T, svc *Service, db *database.Database) *models.UserAccount {
	t.Helper()
	ctx := context.Background()
	user, err := svc.Register(ctx, "dev@example.com", "correct-horse-battery", "org-a")
	require.NoError(t, err)
	require.NoError(t, db.SetUserVerified(ctx, user.ID))
	require.NoError(t, db.ApproveUser(ctx, user.ID))
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	svc, db := setupService(t)
	registerApproved(t, svc, db)

	user, err := svc.Login(context.Background(), "dev@example.com", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "org-a", user.OrgID)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Register(context.Background(), "dev@example.com", "short", "org-a")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@example.com", "correct-horse-battery", "org-a")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "DEV@example.com", "another-long-password", "org-a")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever-password")
	require.Error(t, err)
	assert.Equal(t, "invalid credentials", apperrors.As(err).Message)
}

func TestLoginPendingReviewDenied(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "correct-horse-battery", "org-a")
	require.NoError(t, err)
	require.NoError(t, db.SetUserVerified(ctx, user.ID))

	_, err = svc.Login(ctx, "dev@example.com", "correct-horse-battery")
	require.Error(t, err)
	assert.Contains(t, apperrors.As(err).Message, "pending review")
}

func TestLoginUnverifiedDenied(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "correct-horse-battery", "org-a")
	require.NoError(t, err)
	require.NoError(t, db.ApproveUser(ctx, user.ID))

	_, err = svc.Login(ctx, "dev@example.com", "correct-horse-battery")
	require.Error(t, err)
	assert.Contains(t, apperrors.As(err).Message, "not verified")
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	registerApproved(t, svc, db)

	for i := 0; i < constants.AccountLockThreshold; i++ {
		_, err := svc.Login(ctx, "dev@example.com", "wrong-password-here")
		require.Error(t, err)
	}

	// Even the right password is refused while locked.
	_, err := svc.Login(ctx, "dev@example.com", "correct-horse-battery")
	require.Error(t, err)
	assert.Contains(t, apperrors.As(err).Message, "locked")
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	registerApproved(t, svc, db)

	for i := 0; i < constants.AccountLockThreshold-1; i++ {
		_, err := svc.Login(ctx, "dev@example.com", "wrong-password-here")
		require.Error(t, err)
	}
	_, err := svc.Login(ctx, "dev@example.com", "correct-horse-battery")
	require.NoError(t, err)

	user, err := db.GetUserByEmail(ctx, "dev@example.com")
	require.NoError(t, err)
	assert.Zero(t, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestApproveRequiresAdmin(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "dev@example.com", "correct-horse-battery", "org-a")
	require.NoError(t, err)

	agent := &models.Principal{OrgID: "org-a", AgentID: "a", Scopes: []models.Scope{models.ScopeAgent}}
	err = svc.Approve(ctx, agent, user.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthDenied, apperrors.KindOf(err))

	admin := &models.Principal{OrgID: "org-a", Scopes: []models.Scope{models.ScopeAdmin}}
	require.NoError(t, svc.Approve(ctx, admin, user.ID))
}
