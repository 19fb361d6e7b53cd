package dlq

import (
	"encoding/json"
	"time"

	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

// Entry is a dead-lettered task as shown to operators.
type Entry struct {
	TaskID         id.TaskID       `json:"task_id"`
	Type           task.Type       `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

// EntryFromTask builds an Entry from a dead-lettered task.
func EntryFromTask(t *task.Task) *Entry {
	e := &Entry{
		TaskID:      t.ID,
		Type:        t.Type,
		Payload:     t.Payload,
		Error:       t.LastError,
		Attempts:    t.Attempt,
		MaxAttempts: t.MaxAttempts,
		CreatedAt:   t.CreatedAt,
	}
	if t.DeadLetteredAt != nil {
		e.DeadLetteredAt = *t.DeadLetteredAt
	}
	return e
}
