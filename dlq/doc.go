// Package dlq is the operator view of dead-lettered tasks: tasks whose
// delivery budget ran out or whose handler failed non-retryably.
//
// The executor calls [Service.Push] to park a task; operators list,
// inspect, requeue and purge entries:
//
//	svc := dlq.NewService(queue, extensions, logger)
//	entries, _ := svc.List(ctx, task.ListOpts{Limit: 50})
//	_ = svc.Requeue(ctx, entries[0].TaskID)
//	n, _ := svc.Purge(ctx, time.Now().Add(-7*24*time.Hour))
//
// Requeue gives the task a fresh delivery budget and keeps its ID and
// payload.
package dlq
