package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetProviderCredential stores a provider secret for the org, encrypted at
// rest when an encryption key is configured.
func (d *Database) SetProviderCredential(ctx context.Context, orgID, provider, secret string) error {
	stored, err := d.encryptor.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO provider_credentials (org_id, provider, secret, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(org_id, provider) DO UPDATE SET
		    secret = excluded.secret, updated_at = excluded.updated_at`,
		orgID, provider, stored, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set provider credential: %w", err)
	}
	return nil
}

// GetProviderCredential returns the decrypted secret, or "" when the org has
// none for the provider.
func (d *Database) GetProviderCredential(ctx context.Context, orgID, provider string) (string, error) {
	var stored string
	err := d.db.QueryRowContext(ctx,
		`SELECT secret FROM provider_credentials WHERE org_id = ? AND provider = ?`,
		orgID, provider).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get provider credential: %w", err)
	}
	secret, err := d.encryptor.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return secret, nil
}

// DeleteProviderCredential removes the org's stored secret for a provider.
func (d *Database) DeleteProviderCredential(ctx context.Context, orgID, provider string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE org_id = ? AND provider = ?`, orgID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete provider credential: %w", err)
	}
	return nil
}

// EncryptionEnabled reports whether provider secrets are encrypted at rest.
func (d *Database) EncryptionEnabled() bool {
	return d.encryptor.Enabled()
}
