// Package postgres implements reference.Store and notify.Sink using pgx/v5
// with raw SQL.
// Features: transactional stat increments deduplicated per key, favorite
// lookups, notification persistence with ON CONFLICT dedupe, embedded SQL
// migrations.
package postgres
