package peersync

import (
	"sync"
	"time"
)

// deduplicator remembers recently seen message ids so replayed or
// double-delivered envelopes are dispatched at most once
type deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newDeduplicator(ttl time.Duration) *deduplicator {
	return &deduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// isDuplicate reports whether the id was seen within the ttl window and
// records it either way. An empty id is never treated as a duplicate.
func (d *deduplicator) isDuplicate(msgID string) bool {
	if msgID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[msgID]; ok && time.Since(ts) < d.ttl {
		return true
	}
	d.seen[msgID] = time.Now()

	// Cleanup old entries if map gets too big
	if len(d.seen) > 10000 {
		for k, v := range d.seen {
			if time.Since(v) > 2*d.ttl {
				delete(d.seen, k)
			}
		}
	}

	return false
}
