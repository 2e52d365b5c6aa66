package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// auditRowHash chains each entry to its predecessor. Any retroactive edit
// breaks every hash after the edited row.
func auditRowHash(prevHash, timestamp, eventType, actor, target, details string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write([]byte(timestamp))
	h.Write([]byte("|"))
	h.Write([]byte(eventType))
	h.Write([]byte("|"))
	h.Write([]byte(actor))
	h.Write([]byte("|"))
	h.Write([]byte(target))
	h.Write([]byte("|"))
	h.Write([]byte(details))
	return hex.EncodeToString(h.Sum(nil))
}

// AppendAudit writes an entry linked to the current chain tail. The read of
// the tail and the insert happen in one transaction so concurrent appends
// serialize on SQLite's writer lock.
func (d *Database) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		var prevHash sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT row_hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read audit tail: %w", err)
		}

		timestamp := e.Timestamp
		if timestamp == "" {
			timestamp = FormatTime(time.Now())
		}
		rowHash := auditRowHash(fromNull(prevHash), timestamp, e.EventType, e.Actor, e.Target, e.Details)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_log (timestamp, event_type, actor, target, details, prev_hash, row_hash, org_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			timestamp, e.EventType, e.Actor, nullString(e.Target), nullString(e.Details),
			prevHash, rowHash, e.OrgID)
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
}

// AuditVerifyResult reports the outcome of a full chain walk.
type AuditVerifyResult struct {
	Valid      bool   `json:"valid"`
	RowCount   int    `json:"row_count"`
	BrokenAtID int64  `json:"broken_at_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyAuditChain walks the whole chain in id order, recomputing every
// hash. It stops at the first break.
func (d *Database) VerifyAuditChain(ctx context.Context) (*AuditVerifyResult, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, actor, target, details, prev_hash, row_hash
		 FROM audit_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer rows.Close()

	result := &AuditVerifyResult{Valid: true}
	expectedPrev := ""
	for rows.Next() {
		var id int64
		var timestamp, eventType, actor, rowHash string
		var target, details, prevHash sql.NullString
		if err := rows.Scan(&id, &timestamp, &eventType, &actor, &target, &details, &prevHash, &rowHash); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		result.RowCount++

		if fromNull(prevHash) != expectedPrev {
			result.Valid = false
			result.BrokenAtID = id
			result.Reason = "prev_hash does not match preceding row"
			return result, nil
		}
		computed := auditRowHash(fromNull(prevHash), timestamp, eventType, actor, fromNull(target), fromNull(details))
		if computed != rowHash {
			result.Valid = false
			result.BrokenAtID = id
			result.Reason = "row_hash mismatch"
			return result, nil
		}
		expectedPrev = rowHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to walk audit log: %w", err)
	}
	return result, nil
}

// ListAudit returns recent entries for an org, newest first.
func (d *Database) ListAudit(ctx context.Context, orgID string, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, timestamp, event_type, actor, target, details, prev_hash, row_hash, org_id
		FROM audit_log
		WHERE org_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var target, details, prevHash sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Actor, &target, &details, &prevHash, &e.RowHash, &e.OrgID); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Target = fromNull(target)
		e.Details = fromNull(details)
		e.PrevHash = fromNull(prevHash)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
