package redis

// All queue keys are prefixed with "storemesh:" to avoid collisions.
// Cache keys are built by package cache and used as given.

const keyPrefix = "storemesh:"

// taskKey returns the Hash key of a task: storemesh:task:{id}
func taskKey(id string) string { return keyPrefix + "task:" + id }

const (
	// readyKey orders queued tasks by the instant they become visible.
	readyKey = keyPrefix + "tasks:ready"
	// inflightKey orders in-progress tasks by visibility deadline.
	inflightKey = keyPrefix + "tasks:inflight"
	// deadKey orders dead-lettered tasks by the instant they were parked.
	deadKey = keyPrefix + "tasks:dead"
)
