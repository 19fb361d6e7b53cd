package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRecordSubmitted              = "record.submitted"
	ActionRecordReconciliationRequired = "record.reconciliation_required"
	ActionTaskEnqueued                 = "task.enqueued"
	ActionTaskCompleted                = "task.completed"
	ActionTaskRetrying                 = "task.retrying"
	ActionTaskDeadLettered             = "task.dead_lettered"
	ActionTaskRequeued                 = "task.requeued"
)

// Audit event categories group related actions.
const (
	CategoryRecord = "storemesh.record"
	CategoryTask   = "storemesh.task"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRecord = "price_record"
	ResourceTask   = "task"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRecordSubmitted,
		ActionRecordReconciliationRequired,
		ActionTaskEnqueued,
		ActionTaskCompleted,
		ActionTaskRetrying,
		ActionTaskDeadLettered,
		ActionTaskRequeued,
	}
}
