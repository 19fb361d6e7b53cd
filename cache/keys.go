package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	keyPrefix = "storemesh:"
	anyScope  = "*"
)

// ScopeKey names the generation token of an (item, region) scope. Zero
// means any item or any region.
func ScopeKey(itemID, regionID int64) string {
	return keyPrefix + "gen:item=" + scopePart(itemID) + ":region=" + scopePart(regionID)
}

// ScopesFor returns the generation keys of every scope a record of
// itemID in regionID is visible from.
func ScopesFor(itemID, regionID int64) []string {
	keys := []string{
		ScopeKey(itemID, regionID),
		ScopeKey(itemID, 0),
		ScopeKey(0, regionID),
		ScopeKey(0, 0),
	}
	return dedupe(keys)
}

// QueryKey names a cached query page under a scope token.
func QueryKey(token, window string) string {
	return keyPrefix + "q:" + token + ":" + window
}

// Token returns the current generation token under scopeKey, minting and
// storing a fresh one when absent.
func Token(ctx context.Context, c Cache, scopeKey string, ttl time.Duration) (string, error) {
	raw, found, err := c.Get(ctx, scopeKey)
	if err != nil {
		return "", err
	}
	if found && len(raw) > 0 {
		return string(raw), nil
	}
	token := uuid.NewString()
	if err := c.Set(ctx, scopeKey, []byte(token), ttl); err != nil {
		return "", err
	}
	return token, nil
}

func scopePart(v int64) string {
	if v == 0 {
		return anyScope
	}
	return strconv.FormatInt(v, 10)
}

func dedupe(keys []string) []string {
	out := keys[:0]
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
