package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simon/crabdash/internal/session"
)

const defaultHistoryLimit = 100

func appendHistory(ctx context.Context, tx *sql.Tx, s session.Session, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (id, session_name, status, attention_reason, event, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), s.Name, string(s.Status), emptyNull(string(s.AttentionReason)), s.LastEvent, toMs(at))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent transitions for name, newest first.
// A non-positive limit uses the default of 100.
func (s *Store) ListHistory(ctx context.Context, name string, limit int) ([]session.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_name, status, attention_reason, event, created_at
		FROM status_history
		WHERE session_name = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []session.HistoryEntry
	for rows.Next() {
		var (
			e       session.HistoryEntry
			status  string
			reason  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionName, &status, &reason, &e.Event, &created); err != nil {
			return nil, err
		}
		e.Status = session.Status(status)
		e.AttentionReason = session.AttentionReason(reason.String)
		e.CreatedAt = fromMs(created)
		result = append(result, e)
	}
	return result, rows.Err()
}

// PurgeHistory deletes history rows older than maxAge.
func (s *Store) PurgeHistory(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM status_history WHERE created_at < ?`,
		toMs(s.now().Add(-maxAge)),
	)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
