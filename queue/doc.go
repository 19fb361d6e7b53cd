// Package queue gates task execution per task type with token-bucket rate
// limits and concurrency caps.
//
// # Per-Type Configuration
//
//	queue.Config{
//	    Type:           task.TypeNotify,
//	    MaxConcurrency: 2,  // at most 2 NOTIFY handlers at once
//	    RateLimit:      5,  // at most 5 NOTIFY runs per second
//	    RateBurst:      5,
//	}
//
// # Manager
//
// [Manager.Wait] blocks until the type has a free slot and a rate token,
// then returns a release function the caller must invoke when the handler
// finishes:
//
//	release, err := m.Wait(ctx, t.Type)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// Types without a [Config] are never gated.
package queue
