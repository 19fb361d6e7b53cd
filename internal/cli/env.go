package cli

import (
	"os"
	"strconv"
	"time"

	"github.com/pricetrack/storemesh"
)

const envPrefix = "STOREMESH_"

func getenv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatenv(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// durenv reads a Go duration string such as "30s" or "250ms".
func durenv(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// loadConfig layers STOREMESH_* environment values over the defaults.
// Malformed values fall back to the default.
func loadConfig() storemesh.Config {
	def := storemesh.DefaultConfig()
	return storemesh.Config{
		CacheTTL:             durenv("CACHE_TTL", def.CacheTTL),
		DefaultPageSize:      atoienv("DEFAULT_PAGE_SIZE", def.DefaultPageSize),
		MaxPageSize:          atoienv("MAX_PAGE_SIZE", def.MaxPageSize),
		SlotTimeout:          durenv("SLOT_TIMEOUT", def.SlotTimeout),
		StoreTimeout:         durenv("STORE_TIMEOUT", def.StoreTimeout),
		StoreRetryAttempts:   atoienv("STORE_RETRY_ATTEMPTS", def.StoreRetryAttempts),
		StoreRetryInitial:    durenv("STORE_RETRY_INITIAL", def.StoreRetryInitial),
		StoreRetryMax:        durenv("STORE_RETRY_MAX", def.StoreRetryMax),
		EnqueueRetryAttempts: atoienv("ENQUEUE_RETRY_ATTEMPTS", def.EnqueueRetryAttempts),
		UpdateStatsOnSubmit:  boolenv("UPDATE_STATS_ON_SUBMIT", def.UpdateStatsOnSubmit),
		NotifyOnSubmit:       boolenv("NOTIFY_ON_SUBMIT", def.NotifyOnSubmit),
		TaskMaxAttempts:      atoienv("TASK_MAX_ATTEMPTS", def.TaskMaxAttempts),
		VisibilityTimeout:    durenv("VISIBILITY_TIMEOUT", def.VisibilityTimeout),
		DequeueWait:          durenv("DEQUEUE_WAIT", def.DequeueWait),
		Concurrency:          atoienv("CONCURRENCY", def.Concurrency),
		HandlerTimeout:       durenv("HANDLER_TIMEOUT", def.HandlerTimeout),
		RetryInitial:         durenv("RETRY_INITIAL", def.RetryInitial),
		RetryMax:             durenv("RETRY_MAX", def.RetryMax),
		NotifyRateLimit:      floatenv("NOTIFY_RATE_LIMIT", def.NotifyRateLimit),
		ShutdownTimeout:      durenv("SHUTDOWN_TIMEOUT", def.ShutdownTimeout),
	}
}
