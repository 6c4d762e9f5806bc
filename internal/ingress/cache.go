package ingress

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/agentswarm/agentswarm/internal/common/constants"
)

// Deduper suppresses webhook redeliveries inside a short window. Providers
// retry on slow responses, so the same delivery id can arrive twice within
// seconds.
type Deduper struct {
	seen *gocache.Cache
}

func NewDeduper() *Deduper {
	return &Deduper{
		seen: gocache.New(constants.DedupWindow, 2*constants.DedupWindow),
	}
}

// Seen records the key and reports whether it was already present.
func (d *Deduper) Seen(key string) bool {
	return d.seen.Add(key, struct{}{}, gocache.DefaultExpiration) != nil
}

// RateLimiter caps chat events per sender. Entries decay on their own, so
// a sender regains budget without any sweeper.
type RateLimiter struct {
	counts *gocache.Cache
	max    int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		counts: gocache.New(constants.RateLimitWindow, 2*constants.RateLimitWindow),
		max:    constants.RateLimitMaxEvents,
	}
}

// Allow counts one event for the sender and reports whether it fits the
// window budget.
func (r *RateLimiter) Allow(senderKey string) bool {
	n, err := r.counts.IncrementInt(senderKey, 1)
	if err != nil {
		r.counts.Set(senderKey, 1, gocache.DefaultExpiration)
		return true
	}
	return n <= r.max
}
