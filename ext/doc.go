// Package ext defines the extension system of storemesh.
//
// # Implementing an Extension
//
//	type Alerts struct{}
//
//	func (a *Alerts) Name() string { return "alerts" }
//
//	func (a *Alerts) OnTaskDeadLettered(ctx context.Context, t *task.Task, err error) error {
//	    return page(ctx, "task %s dead-lettered: %v", t.ID, err)
//	}
//
// # Hooks
//
//   - [RecordSubmitted] record persisted, tasks handed off
//   - [ReconciliationRequired] derived task lost after enqueue retries
//   - [QueryServed] query answered (cached or not, stale or not)
//   - [CacheDegraded] cache failed, direct store read used
//   - [TaskEnqueued], [TaskCompleted], [TaskRetrying]
//   - [TaskDeadLettered], [TaskRequeued]
//   - [Shutdown]
//
// Hook errors are logged and never propagated; they must not block the
// write, read or task paths.
package ext
