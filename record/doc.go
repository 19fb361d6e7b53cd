// Package record defines the immutable price record held in the document
// store, the draft a client submits, the query filter, and the store
// contract.
//
// # Record
//
// A [Record] is append-only: it is created once by the write coordinator
// and never edited. A newer record for the same item and shop supersedes
// older ones by timestamp; history is kept.
//
//	rec := &record.Record{
//	    ItemID: 123, ShopID: 789,
//	    Price: 2500, Unit: "viss", Type: record.TypeRetail,
//	}
//
// # Ordering
//
// Query results are ordered by Timestamp descending with ties broken by
// record ID ascending, which makes pagination stable. [Sort] applies the
// same order in memory.
package record
