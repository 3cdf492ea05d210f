// Package cache memoizes completed analyses by URL for a bounded time.
//
// Expiry is lazy: an entry older than the TTL is treated as a miss but
// stays in the store (and in Stats.Total) until it is overwritten or the
// cache is cleared.
package cache

import (
	"context"
	"time"

	"github.com/nao1215/phishguard/internal/model"
)

// DefaultTTL is how long a cached analysis is served.
const DefaultTTL = time.Hour

// Stats counts cache entries.
type Stats struct {
	// Total is every stored entry, including stale ones.
	Total int `json:"total_cached"`
	// Active is the entries younger than the TTL.
	Active int `json:"active_cached"`
}

// Cache stores analyses keyed by the raw URL string. Implementations are
// safe for concurrent use and never hand out a value that another caller
// can mutate.
type Cache interface {
	// Get returns a copy of the entry for key if it is younger than the TTL.
	Get(ctx context.Context, key string) (*model.FullAnalysis, bool, error)
	// Put stores a copy of v, replacing any existing entry.
	Put(ctx context.Context, key string, v *model.FullAnalysis) error
	// Stats counts stored and active entries.
	Stats(ctx context.Context) (Stats, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// TTL returns the freshness window.
	TTL() time.Duration
}

// fresh reports whether an entry inserted at insertedAt is still served at
// now.
func fresh(insertedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(insertedAt) < ttl
}
