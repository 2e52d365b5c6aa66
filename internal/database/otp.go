package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertOTP stores a hashed verification code, superseding any live code for
// the same contact and purpose.
func (d *Database) InsertOTP(ctx context.Context, contactAddress, codeHash, purpose string, ttl time.Duration) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM otp_codes WHERE contact_address = ? AND purpose = ?`,
			contactAddress, purpose); err != nil {
			return fmt.Errorf("failed to supersede otp: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO otp_codes (contact_address, code_hash, expires_at, purpose) VALUES (?, ?, ?, ?)`,
			contactAddress, codeHash, FormatTime(time.Now().Add(ttl)), purpose)
		if err != nil {
			return fmt.Errorf("failed to insert otp: %w", err)
		}
		return nil
	})
}

// GetOTP fetches the live code for a contact and purpose.
func (d *Database) GetOTP(ctx context.Context, contactAddress, purpose string) (*models.OTPCode, error) {
	var o models.OTPCode
	var expiresAt, createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, contact_address, code_hash, expires_at, attempts, purpose, created_at
		 FROM otp_codes WHERE contact_address = ? AND purpose = ?
		 ORDER BY id DESC LIMIT 1`, contactAddress, purpose).
		Scan(&o.ID, &o.ContactAddress, &o.CodeHash, &expiresAt, &o.Attempts, &o.Purpose, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}
	if t, err := ParseTime(expiresAt); err == nil {
		o.ExpiresAt = t
	}
	if t, err := ParseTime(createdAt); err == nil {
		o.CreatedAt = t
	}
	return &o, nil
}

// IncrementOTPAttempts counts a failed verification.
func (d *Database) IncrementOTPAttempts(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return nil
}

// DeleteOTP consumes a code after success (or exhaustion).
func (d *Database) DeleteOTP(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}
