package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"agentgate/internal/models"
)

// ExecuteErasure deletes every row referencing the subject identifier across
// message-bearing tables, records the request, and returns the completed
// record. The audit log is intentionally untouched: erasing it would break
// the hash chain, and it stores only addresses the caller already knew.
func (d *Database) ExecuteErasure(ctx context.Context, req *models.ErasureRequest) (*models.ErasureRequest, error) {
	type target struct {
		table string
		query string
	}
	id := req.SubjectIdentifier
	targets := []target{
		{"usage_logs", `DELETE FROM usage_logs WHERE target_address = ?`},
		{"dead_letters", `DELETE FROM dead_letters WHERE from_address = ? OR to_address = ?`},
		{"call_logs", `DELETE FROM call_logs WHERE from_address = ? OR to_address = ?`},
		{"dnc_list", `DELETE FROM dnc_list WHERE phone_number = ? OR email_address = ?`},
		{"otp_codes", `DELETE FROM otp_codes WHERE contact_address = ?`},
	}

	var affected []string
	var deleted int64
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range targets {
			args := make([]interface{}, strings.Count(t.query, "?"))
			for i := range args {
				args[i] = id
			}
			res, err := tx.ExecContext(ctx, t.query, args...)
			if err != nil {
				return fmt.Errorf("failed to erase from %s: %w", t.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if n > 0 {
				affected = append(affected, t.table)
				deleted += n
			}
		}

		completedAt := FormatTime(time.Now())
		_, err := tx.ExecContext(ctx,
			`INSERT INTO erasure_requests (id, subject_identifier, identifier_type, status,
			    tables_affected, rows_deleted, completed_at)
			 VALUES (?, ?, ?, 'completed', ?, ?, ?)`,
			req.ID, req.SubjectIdentifier, req.IdentifierType,
			strings.Join(affected, ","), deleted, completedAt)
		if err != nil {
			return fmt.Errorf("failed to record erasure request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &models.ErasureRequest{
		ID:                req.ID,
		SubjectIdentifier: req.SubjectIdentifier,
		IdentifierType:    req.IdentifierType,
		Status:            "completed",
		TablesAffected:    strings.Join(affected, ","),
		RowsDeleted:       int(deleted),
		CompletedAt:       &now,
	}, nil
}

// GetErasureRequest fetches an erasure record by id.
func (d *Database) GetErasureRequest(ctx context.Context, id string) (*models.ErasureRequest, error) {
	var r models.ErasureRequest
	var completedAt sql.NullString
	var createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, subject_identifier, identifier_type, status, tables_affected,
		        rows_deleted, completed_at, created_at
		 FROM erasure_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.SubjectIdentifier, &r.IdentifierType, &r.Status,
			&r.TablesAffected, &r.RowsDeleted, &completedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get erasure request: %w", err)
	}
	r.CompletedAt = timePtr(completedAt)
	if t, err := ParseTime(createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}
