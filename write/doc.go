// Package write implements the write path: a submitted price draft is
// validated, resolved against the reference store, persisted once in the
// record store under a per-(item, shop) slot, and followed by derived
// tasks on the queue.
//
//	c := write.New(records, refs, queue, write.WithConfig(cfg))
//	res, err := c.Submit(ctx, draft)
//
// Submit succeeds as soon as the record is persisted. A derived task that
// could not be enqueued is counted in Result.Pending, logged as a
// reconciliation marker and reported to extensions.
package write
