package objectid

import (
	"sync"
	"time"
)

// Locked guards a Cache with a mutex so that categories syncing concurrently
// can share it.
type Locked struct {
	mu    sync.Mutex
	cache *Cache
}

// NewLocked takes ownership of c. A nil c starts empty.
func NewLocked(c *Cache) *Locked {
	if c == nil {
		c = New()
	}
	return &Locked{cache: c}
}

func (l *Locked) Add(syncIdentifier, objectID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(syncIdentifier, objectID, at)
}

// AddAll inserts every pair under a single lock acquisition.
func (l *Locked) AddAll(pairs []Mapping) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range pairs {
		l.cache.Add(p.SyncIdentifier, p.ObjectID, p.CreatedAt)
	}
}

func (l *Locked) Lookup(syncIdentifier string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Lookup(syncIdentifier)
}

// Resolve looks up every identifier at once. Identifiers without a mapping
// are absent from the result.
func (l *Locked) Resolve(syncIdentifiers []string) map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(syncIdentifiers))
	for _, id := range syncIdentifiers {
		if objectID, ok := l.cache.Lookup(id); ok {
			out[id] = objectID
		}
	}
	return out
}

func (l *Locked) Purge(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Purge(cutoff)
}

func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

// Snapshot returns an independent copy suitable for persisting.
func (l *Locked) Snapshot() *Cache {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.clone()
}
