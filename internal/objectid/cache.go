// Package objectid remembers which remote object id the data service assigned
// to each locally created record, so that later edits and deletions can be
// addressed to the right remote document.
//
// The cache is an optimization, not a source of truth: losing it only means
// updates and deletions for records created before the loss are skipped.
package objectid

import "time"

// Mapping ties a local sync identifier to the remote object id returned by a
// successful create.
type Mapping struct {
	SyncIdentifier string    `json:"sync_identifier"`
	ObjectID       string    `json:"object_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Cache holds at most one Mapping per sync identifier. The zero value is
// ready to use. Cache is not safe for concurrent use; see Locked.
type Cache struct {
	bySyncIdentifier map[string]Mapping
}

func New() *Cache {
	return &Cache{bySyncIdentifier: make(map[string]Mapping)}
}

// Add records objectID for syncIdentifier, replacing any earlier mapping.
func (c *Cache) Add(syncIdentifier, objectID string, at time.Time) {
	if c.bySyncIdentifier == nil {
		c.bySyncIdentifier = make(map[string]Mapping)
	}
	c.bySyncIdentifier[syncIdentifier] = Mapping{
		SyncIdentifier: syncIdentifier,
		ObjectID:       objectID,
		CreatedAt:      at,
	}
}

// Lookup returns the remote object id for syncIdentifier.
func (c *Cache) Lookup(syncIdentifier string) (string, bool) {
	m, ok := c.bySyncIdentifier[syncIdentifier]
	return m.ObjectID, ok
}

// Purge drops every mapping created strictly before cutoff and reports how
// many were removed.
func (c *Cache) Purge(cutoff time.Time) int {
	removed := 0
	for key, m := range c.bySyncIdentifier {
		if m.CreatedAt.Before(cutoff) {
			delete(c.bySyncIdentifier, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	return len(c.bySyncIdentifier)
}

// Mappings returns a copy of the cache contents in no particular order.
func (c *Cache) Mappings() []Mapping {
	out := make([]Mapping, 0, len(c.bySyncIdentifier))
	for _, m := range c.bySyncIdentifier {
		out = append(out, m)
	}
	return out
}

func (c *Cache) clone() *Cache {
	cp := New()
	for k, v := range c.bySyncIdentifier {
		cp.bySyncIdentifier[k] = v
	}
	return cp
}
