package postgres

import (
	"context"
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (dedupe_key, user_id, title, message, category, record_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		nullable(n.DedupeKey), n.UserID, n.Title, n.Message, category, nullable(n.RecordID), created,
	)
	if err != nil {
		return fmt.Errorf("storemesh/postgres: insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications of a user.
func (s *Store) ListNotifications(ctx context.Context, userID int64, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(dedupe_key, ''), user_id, title, message, category,
		       COALESCE(record_id, ''), created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storemesh/postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var n notify.Notification
		if err := rows.Scan(&n.DedupeKey, &n.UserID, &n.Title, &n.Message, &n.Category, &n.RecordID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storemesh/postgres: scan notification: %w", err)
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storemesh/postgres: list notifications: %w", err)
	}
	return out, nil
}
