package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertOrganization creates a tenant.
func (d *Database) InsertOrganization(ctx context.Context, org *models.Organization) error {
	settings := org.Settings
	if settings == "" {
		settings = "{}"
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, settings) VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug, settings)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

// GetOrganization fetches a tenant by id.
func (d *Database) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	var createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, slug, settings, created_at FROM organizations WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &org.Slug, &org.Settings, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if t, err := ParseTime(createdAt); err == nil {
		org.CreatedAt = t
	}
	return &org, nil
}

// InsertUser creates a human account. New accounts start pending review.
func (d *Database) InsertUser(ctx context.Context, u *models.UserAccount) error {
	status := u.AccountStatus
	if status == "" {
		status = models.AccountPendingReview
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, org_id, verified, account_status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.OrgID, boolToInt(u.Verified), status)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches an account for login.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	var u models.UserAccount
	var verified int
	var lockedUntil sql.NullString
	var createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, org_id, verified, locked_until, failed_attempts, account_status, created_at
		 FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.OrgID, &verified, &lockedUntil,
			&u.FailedAttempts, &u.AccountStatus, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Verified = verified == 1
	u.LockedUntil = timePtr(lockedUntil)
	if t, err := ParseTime(createdAt); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

// RecordFailedLogin bumps the counter and locks the account once the
// threshold is crossed.
func (d *Database) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		if err := tx.QueryRowContext(ctx,
			`SELECT failed_attempts FROM users WHERE id = ?`, userID).Scan(&attempts); err != nil {
			return fmt.Errorf("failed to read login attempts: %w", err)
		}
		attempts++
		var lockedUntil sql.NullString
		if attempts >= threshold {
			lockedUntil = nullString(FormatTime(time.Now().Add(lockFor)))
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET failed_attempts = ?, locked_until = ? WHERE id = ?`,
			attempts, lockedUntil, userID)
		if err != nil {
			return fmt.Errorf("failed to record failed login: %w", err)
		}
		return nil
	})
}

// ResetFailedLogins clears the counter and any lock after a successful login.
func (d *Database) ResetFailedLogins(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// SetUserVerified marks email ownership proven.
func (d *Database) SetUserVerified(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE users SET verified = 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}
	return nil
}

// ApproveUser moves a pending account to approved.
func (d *Database) ApproveUser(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET account_status = ? WHERE id = ?`, models.AccountApproved, userID)
	if err != nil {
		return fmt.Errorf("failed to approve user: %w", err)
	}
	return nil
}
