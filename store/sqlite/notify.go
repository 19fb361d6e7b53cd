package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pricetrack/storemesh/notify"
)

// Send persists n. A notification whose dedupe key is already stored is
// dropped silently.
func (s *Store) Send(ctx context.Context, n notify.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	category := n.Category
	if category == "" {
		category = notify.CategoryPrice
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (dedupe_key, user_id, title, message, category, record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		nullable(n.DedupeKey), n.UserID, n.Title, n.Message, category, nullable(n.RecordID), created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storemesh/sqlite: insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications of a user.
func (s *Store) ListNotifications(ctx context.Context, userID int64, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(dedupe_key, ''), user_id, title, message, category,
		       COALESCE(record_id, ''), created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storemesh/sqlite: list notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n       notify.Notification
			created int64
		)
		if err := rows.Scan(&n.DedupeKey, &n.UserID, &n.Title, &n.Message, &n.Category, &n.RecordID, &created); err != nil {
			return nil, fmt.Errorf("storemesh/sqlite: scan notification: %w", err)
		}
		n.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storemesh/sqlite: list notifications: %w", err)
	}
	return out, nil
}

// nullable turns an empty string into SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
