// Package storemesh coordinates price data that lives across three stores:
// a relational reference store (users, shops, items, locations), a document
// record store (immutable price records), and a fast ephemeral store used
// for caching and background task queuing.
//
// Storemesh is a library. Import it, plug in the backends you run, and call
// Submit and Query from your request layer.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithRecordStore(mongostore.New(db)),
//	    engine.WithReferenceStore(pgStore),
//	    engine.WithCache(redisstore.NewCache(rdb)),
//	    engine.WithQueue(redisstore.NewQueue(rdb)),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	res, err := eng.Submit(ctx, draft)
//
// # Architecture
//
// Writes are serialized per (item, shop) key, persisted to the record store
// and followed by derived tasks (cache invalidation, shop statistics, price
// alerts) on the task queue. A worker pool drains the queue with
// at-least-once delivery, retries with backoff, and dead-letters tasks that
// exhaust their attempts. Reads go through the cache and degrade to direct
// store reads, flagged stale, when the cache is unreachable.
//
// There are no cross-store transactions. Derived effects are eventually
// consistent and idempotent.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package storemesh
