package task

import (
	"fmt"
	"time"

	"github.com/pricetrack/storemesh"
)

// State is the lifecycle state of a task.
type State string

const (
	StateQueued       State = "queued"
	StateInProgress   State = "in_progress"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateDeadLettered State = "dead_lettered"
)

var transitions = map[State][]State{
	StateQueued:       {StateInProgress},
	StateInProgress:   {StateCompleted, StateFailed, StateDeadLettered, StateQueued},
	StateFailed:       {StateQueued, StateDeadLettered},
	StateDeadLettered: {StateQueued},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (t *Task) move(to State, now time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", storemesh.ErrInvalidState, t.State, to, t.ID)
	}
	t.State = to
	t.UpdatedAt = now
	return nil
}

// CheckDelivery reports storemesh.ErrStaleDelivery when attempt is no
// longer the task's current delivery. A consumer whose visibility timeout
// passed must not settle the task on behalf of the one now holding it.
func (t *Task) CheckDelivery(attempt int) error {
	if t.Attempt != attempt {
		return fmt.Errorf("%w: task %s settled by attempt %d, current attempt %d",
			storemesh.ErrStaleDelivery, t.ID, attempt, t.Attempt)
	}
	return nil
}

// Claim moves a queued task in progress, spends one attempt and hides it
// until now+visibility.
func (t *Task) Claim(now time.Time, visibility time.Duration) error {
	if err := t.move(StateInProgress, now); err != nil {
		return err
	}
	t.Attempt++
	t.VisibleAt = now.Add(visibility)
	return nil
}

// Complete marks an in-progress task done.
func (t *Task) Complete(now time.Time) error {
	return t.move(StateCompleted, now)
}

// Fail records a failed attempt. The task is re-queued visible at
// now+delay, or dead-lettered when its budget is spent. It returns the
// resulting state.
func (t *Task) Fail(now time.Time, cause string, delay time.Duration) (State, error) {
	if err := t.move(StateFailed, now); err != nil {
		return t.State, err
	}
	t.LastError = cause
	if t.Exhausted() {
		return StateDeadLettered, t.DeadLetter(now, cause)
	}
	if err := t.move(StateQueued, now); err != nil {
		return t.State, err
	}
	t.VisibleAt = now.Add(delay)
	return StateQueued, nil
}

// DeadLetter parks the task for operator review.
func (t *Task) DeadLetter(now time.Time, cause string) error {
	if err := t.move(StateDeadLettered, now); err != nil {
		return err
	}
	if cause != "" {
		t.LastError = cause
	}
	at := now
	t.DeadLetteredAt = &at
	return nil
}

// Requeue returns a dead-lettered task to the queue with a fresh budget.
func (t *Task) Requeue(now time.Time) error {
	if err := t.move(StateQueued, now); err != nil {
		return err
	}
	t.Attempt = 0
	t.VisibleAt = now
	t.DeadLetteredAt = nil
	return nil
}

// Reclaim handles an in-progress task whose visibility deadline passed. It
// is re-queued, or dead-lettered when no attempts remain. It returns the
// resulting state.
func (t *Task) Reclaim(now time.Time) (State, error) {
	if t.State != StateInProgress {
		return t.State, fmt.Errorf("%w: reclaim from %s (task %s)", storemesh.ErrInvalidState, t.State, t.ID)
	}
	if t.Exhausted() {
		return StateDeadLettered, t.DeadLetter(now, "visibility timeout: delivery budget exhausted")
	}
	if err := t.move(StateQueued, now); err != nil {
		return t.State, err
	}
	t.VisibleAt = now
	return StateQueued, nil
}
