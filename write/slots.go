package write

import (
	"context"
	"sync"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/record"
)

type slot struct {
	held    bool
	waiters []chan struct{}
	// refs counts the holder plus waiters; the slot is dropped at zero.
	refs int
}

// Slots serializes writers per key. Waiters are served in arrival order,
// distinct keys never wait on each other, and idle keys hold no memory.
type Slots struct {
	mu    sync.Mutex
	slots map[record.Key]*slot
}

// NewSlots returns an empty slot table.
func NewSlots() *Slots {
	return &Slots{slots: make(map[record.Key]*slot)}
}

// Acquire waits for the slot of key. It returns
// storemesh.ErrSerializationTimeout when timeout elapses first and
// ctx.Err() when ctx ends first. The returned release must be called
// exactly once.
func (s *Slots) Acquire(ctx context.Context, key record.Key, timeout time.Duration) (func(), error) {
	s.mu.Lock()
	sl := s.slots[key]
	if sl == nil {
		sl = &slot{}
		s.slots[key] = sl
	}
	sl.refs++
	if !sl.held {
		sl.held = true
		s.mu.Unlock()
		return s.releaser(key, sl), nil
	}
	turn := make(chan struct{})
	sl.waiters = append(sl.waiters, turn)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-turn:
		return s.releaser(key, sl), nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-timer.C:
		cause = storemesh.ErrSerializationTimeout
	}

	s.mu.Lock()
	for i, w := range sl.waiters {
		if w == turn {
			sl.waiters = append(sl.waiters[:i], sl.waiters[i+1:]...)
			sl.refs--
			if sl.refs == 0 {
				delete(s.slots, key)
			}
			s.mu.Unlock()
			return nil, cause
		}
	}
	s.mu.Unlock()

	// The slot was handed over while giving up; pass it on.
	s.release(key, sl)
	return nil, cause
}

func (s *Slots) releaser(key record.Key, sl *slot) func() {
	var once sync.Once
	return func() { once.Do(func() { s.release(key, sl) }) }
}

func (s *Slots) release(key record.Key, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl.refs--
	if len(sl.waiters) > 0 {
		next := sl.waiters[0]
		sl.waiters = sl.waiters[1:]
		close(next)
		return
	}
	sl.held = false
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}

// Len returns the number of keys with a holder or waiters.
func (s *Slots) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
