// Package task defines the background task protocol of the orchestration
// layer: the task entity and its state machine, the typed payload, the
// queue contract, and the handler registry.
//
// # Lifecycle
//
//	queued ──Dequeue──▶ in_progress ──Ack──▶ completed
//	  ▲                   │  │
//	  │                   │  └──DeadLetter / Nack (budget spent)──▶ dead_lettered
//	  ├──Nack (budget)────┘                                             │
//	  ├──visibility deadline passed                                     │
//	  └──────────────────────────Requeue────────────────────────────────┘
//
// Dequeue increments Attempt. A task is dead-lettered at most once per
// Requeue cycle.
//
// # Handlers
//
// Handlers are registered per [Type] through a typed [Definition]:
//
//	reg := task.NewRegistry()
//	task.RegisterDefinition(reg, task.NewDefinition(task.TypeNotify,
//	    func(ctx context.Context, p task.Payload) error {
//	        return send(ctx, p)
//	    }))
//
// A handler that returns an error wrapped with [NonRetryable] is
// dead-lettered without spending the rest of its budget. A payload that
// does not decode is non-retryable.
package task
