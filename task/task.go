package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pricetrack/storemesh/id"
)

// Type names a kind of derived work.
type Type string

const (
	TypeInvalidateCache Type = "INVALIDATE_CACHE"
	TypeUpdateStats     Type = "UPDATE_STATS"
	TypeNotify          Type = "NOTIFY"
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeInvalidateCache, TypeUpdateStats, TypeNotify:
		return true
	}
	return false
}

// Payload is the body shared by every task type. Only RecordID and ItemID
// are always present.
type Payload struct {
	RecordID   string  `json:"record_id"`
	ItemID     int64   `json:"item_id"`
	ShopID     int64   `json:"shop_id,omitempty"`
	RegionID   int64   `json:"region_id,omitempty"`
	RecordType string  `json:"record_type,omitempty"`
	Price      float64 `json:"price,omitempty"`
}

// Task is a unit of derived work held in the queue.
type Task struct {
	ID             id.TaskID       `json:"id"`
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	State          State           `json:"state"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	VisibleAt      time.Time       `json:"visible_at"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeadLetteredAt *time.Time      `json:"dead_lettered_at,omitempty"`
}

// New builds a queued task with a fresh ID.
func New(typ Type, p Payload, maxAttempts int) (*Task, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("task: unknown type %q", typ)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("task: marshal payload: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := time.Now().UTC()
	return &Task{
		ID:          id.NewTaskID(),
		Type:        typ,
		Payload:     raw,
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		VisibleAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DecodePayload unmarshals the task body.
func (t *Task) DecodePayload() (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("task: decode %s payload: %w", t.Type, err)
	}
	return p, nil
}

// Exhausted reports whether the delivery budget is spent.
func (t *Task) Exhausted() bool { return t.Attempt >= t.MaxAttempts }

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.DeadLetteredAt != nil {
		at := *t.DeadLetteredAt
		cp.DeadLetteredAt = &at
	}
	return &cp
}
