package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// CachedListing represents a cached relay listing
type CachedListing struct {
	Events    []nostr.Event
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from a relay and a filter
func GenerateCacheKey(relayURL string, filter nostr.Filter) string {
	h := sha256.New()
	h.Write([]byte(relayURL))
	b, err := json.Marshal(filter)
	if err != nil {
		// fall back to the Go representation, still deterministic
		b = []byte(fmt.Sprintf("%#v", filter))
	}
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Listings caches discovery results for the lifetime of the process.
// Entries older than the TTL are treated as misses.
type Listings struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// NewListings creates a cache. A zero ttl never expires entries.
func NewListings(ttl time.Duration) *Listings {
	return &Listings{ttl: ttl, now: time.Now}
}

// Load returns the cached events for key
func (l *Listings) Load(key string) ([]nostr.Event, bool) {
	val, ok := l.entries.Load(key)
	if !ok {
		return nil, false
	}
	cached := val.(CachedListing)
	if l.ttl > 0 && l.now().Sub(cached.Timestamp) > l.ttl {
		l.entries.Delete(key)
		return nil, false
	}
	return cached.Events, true
}

// Store caches events under key
func (l *Listings) Store(key string, events []nostr.Event) {
	l.entries.Store(key, CachedListing{
		Events:    append([]nostr.Event(nil), events...),
		Timestamp: l.now(),
	})
}
