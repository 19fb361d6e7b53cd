// Package notify defines the notification sink used by the NOTIFY task
// handler, and a sink that only logs.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// CategoryPrice marks price change alerts.
const CategoryPrice = "PRICE"

// Notification is a message for a single user.
type Notification struct {
	// DedupeKey is stable across redeliveries of the same task so durable
	// sinks can drop repeats.
	DedupeKey string    `json:"dedupe_key"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	RecordID  string    `json:"record_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink delivers notifications.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSink writes notifications to a logger and never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs at info level. A nil logger uses
// slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Send logs n.
func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		slog.Int64("user_id", n.UserID),
		slog.String("title", n.Title),
		slog.String("message", n.Message),
		slog.String("dedupe_key", n.DedupeKey),
	)
	return nil
}
