package database

import (
	"context"
	"database/sql"
	"fmt"

	"agentgate/internal/models"
)

// AddDNCEntry blocks an address for the org. Exactly one of PhoneNumber and
// EmailAddress must be set; the schema enforces the XOR.
func (d *Database) AddDNCEntry(ctx context.Context, e *models.DNCEntry) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO dnc_list (phone_number, email_address, reason, added_by, org_id)
		 VALUES (?, ?, ?, ?, ?)`,
		nullString(e.PhoneNumber), nullString(e.EmailAddress), e.Reason, e.AddedBy, e.OrgID)
	if err != nil {
		return fmt.Errorf("failed to add dnc entry: %w", err)
	}
	return nil
}

// IsOnDNC reports whether the address is blocked for the org. Phone-shaped
// addresses check phone_number, everything else checks email_address.
func (d *Database) IsOnDNC(ctx context.Context, orgID, address string) (bool, error) {
	column := "email_address"
	if len(address) > 0 && address[0] == '+' {
		column = "phone_number"
	}
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dnc_list WHERE org_id = ? AND `+column+` = ?`,
		orgID, address).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check dnc list: %w", err)
	}
	return n > 0, nil
}

// RemoveDNCEntry unblocks an address for the org.
func (d *Database) RemoveDNCEntry(ctx context.Context, orgID, address string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM dnc_list WHERE org_id = ? AND (phone_number = ? OR email_address = ?)`,
		orgID, address, address)
	if err != nil {
		return fmt.Errorf("failed to remove dnc entry: %w", err)
	}
	return nil
}

// ListDNC returns the org's blocklist.
func (d *Database) ListDNC(ctx context.Context, orgID string) ([]*models.DNCEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, phone_number, email_address, reason, added_by, added_at, org_id
		 FROM dnc_list WHERE org_id = ? ORDER BY added_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dnc entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.DNCEntry
	for rows.Next() {
		var e models.DNCEntry
		var phone, email sql.NullString
		var addedAt string
		if err := rows.Scan(&e.ID, &phone, &email, &e.Reason, &e.AddedBy, &addedAt, &e.OrgID); err != nil {
			return nil, fmt.Errorf("failed to scan dnc entry: %w", err)
		}
		e.PhoneNumber = fromNull(phone)
		e.EmailAddress = fromNull(email)
		if t, err := ParseTime(addedAt); err == nil {
			e.AddedAt = t
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
