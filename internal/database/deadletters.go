package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentgate/internal/models"
)

// InsertDeadLetter parks a failed delivery for later fetch-acknowledge.
func (d *Database) InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO dead_letters (
			id, agent_id, org_id, channel, direction, reason,
			from_address, to_address, body, media_url,
			original_request, error_details, external_id, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.AgentID, dl.OrgID, dl.Channel, dl.Direction, dl.Reason,
		nullString(dl.FromAddress), nullString(dl.ToAddress), nullString(dl.Body),
		nullString(dl.MediaURL), nullString(dl.OriginalRequest), nullString(dl.ErrorDetails),
		nullString(dl.ExternalID), models.DeadLetterPending)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// FetchDeadLetters returns pending letters for an agent oldest-first and
// marks the returned rows acknowledged in the same transaction, so a letter
// is delivered to at most one reader. channel narrows the drain; empty
// means all channels.
func (d *Database) FetchDeadLetters(ctx context.Context, agentID, channel string, limit int) ([]*models.DeadLetter, error) {
	var letters []*models.DeadLetter
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT id, agent_id, org_id, channel, direction, reason,
			       from_address, to_address, body, media_url,
			       original_request, error_details, external_id, status, created_at
			FROM dead_letters
			WHERE agent_id = ? AND status = ?
		`
		args := []interface{}{agentID, models.DeadLetterPending}
		if channel != "" {
			query += ` AND channel = ?`
			args = append(args, channel)
		}
		query += ` ORDER BY created_at ASC LIMIT ?`
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to fetch dead letters: %w", err)
		}
		defer rows.Close()

		var ids []interface{}
		for rows.Next() {
			dl, err := scanDeadLetter(rows)
			if err != nil {
				return err
			}
			letters = append(letters, dl)
			ids = append(ids, dl.ID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to walk dead letters: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		ack := `UPDATE dead_letters SET status = ?, acknowledged_at = ? WHERE id IN (?` +
			repeatPlaceholder(len(ids)-1) + `)`
		ackArgs := append([]interface{}{models.DeadLetterAcknowledged, FormatTime(time.Now())}, ids...)
		if _, err := tx.ExecContext(ctx, ack, ackArgs...); err != nil {
			return fmt.Errorf("failed to acknowledge dead letters: %w", err)
		}
		for _, dl := range letters {
			dl.Status = models.DeadLetterAcknowledged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return letters, nil
}

// PeekDeadLetters lists pending letters without acknowledging them.
func (d *Database) PeekDeadLetters(ctx context.Context, agentID string, limit int) ([]*models.DeadLetter, error) {
	query := `
		SELECT id, agent_id, org_id, channel, direction, reason,
		       from_address, to_address, body, media_url,
		       original_request, error_details, external_id, status, created_at
		FROM dead_letters
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, agentID, models.DeadLetterPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to peek dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// CountPendingDeadLetters reports the backlog for an agent.
func (d *Database) CountPendingDeadLetters(ctx context.Context, agentID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE agent_id = ? AND status = ?`,
		agentID, models.DeadLetterPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

func scanDeadLetter(rows *sql.Rows) (*models.DeadLetter, error) {
	var dl models.DeadLetter
	var from, to, body, media, original, errDetails, extID sql.NullString
	var createdAt string
	err := rows.Scan(&dl.ID, &dl.AgentID, &dl.OrgID, &dl.Channel, &dl.Direction, &dl.Reason,
		&from, &to, &body, &media, &original, &errDetails, &extID, &dl.Status, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead letter: %w", err)
	}
	dl.FromAddress = fromNull(from)
	dl.ToAddress = fromNull(to)
	dl.Body = fromNull(body)
	dl.MediaURL = fromNull(media)
	dl.OriginalRequest = fromNull(original)
	dl.ErrorDetails = fromNull(errDetails)
	dl.ExternalID = fromNull(extID)
	if t, err := ParseTime(createdAt); err == nil {
		dl.CreatedAt = t
	}
	return &dl, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
