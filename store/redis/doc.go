// Package redis implements the storemesh cache and task queue on Redis.
//
// Cache entries are plain strings written with SET PX. Tasks are stored as
// Hashes; three Sorted Sets index them: ready (score = visible-at),
// inflight (score = visibility deadline) and dead (score =
// dead-lettered-at). Enqueue writes the hash and its ready entry in one
// Lua script, and another script moves the next visible task from ready to
// inflight so concurrent consumers never claim the same task. A claim that
// fails after the move restores the entry from the stored task state.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	c := redis.NewCache(client)
//	q := redis.NewQueue(client, redis.WithVisibilityTimeout(30*time.Second))
package redis
