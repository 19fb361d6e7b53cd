// Package engine wires the storemesh subsystems together and provides the
// application-level API: Submit, Query, Requeue, InspectQueueDepth and the
// dead-letter operations.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithRecordStore(mongoStore),
//	    engine.WithReferenceStore(pgStore),
//	    engine.WithNotifier(pgStore),
//	    engine.WithCache(redisCache),
//	    engine.WithQueue(redisQueue),
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	)
//
// # Running
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
//	res, err := eng.Submit(ctx, record.Draft{ItemID: 123, ShopID: 789, ...})
//	page, err := eng.Query(ctx, record.Filter{ItemID: 123})
//
// Submit returns once the record is persisted. Cache invalidation, shop
// statistics and price alerts follow asynchronously through the task
// queue, so a Query issued right after Submit may serve the previous page
// until the INVALIDATE_CACHE task runs.
//
// # Options
//
//   - [WithRecordStore], [WithReferenceStore], [WithQueue] (required)
//   - [WithCache], [WithNotifier]
//   - [WithConfig], [WithLogger]
//   - [WithExtension], [WithMiddleware], [WithQueueConfig]
//   - [WithTracerProvider], [WithMeterProvider]
package engine
