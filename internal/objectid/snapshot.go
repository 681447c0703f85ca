package objectid

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loopkit/nightscoutservice/internal/common"
)

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// Snapshot is the persisted form of a Cache.
type Snapshot struct {
	Version  int       `json:"version"`
	Mappings []Mapping `json:"mappings"`
}

// ToSnapshot orders mappings by sync identifier so encoding is stable.
func (c *Cache) ToSnapshot() Snapshot {
	mappings := c.Mappings()
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].SyncIdentifier < mappings[j].SyncIdentifier
	})
	return Snapshot{Version: SnapshotVersion, Mappings: mappings}
}

// FromSnapshot rebuilds a cache. Unknown versions and mappings missing either
// identifier are rejected with common.ErrMalformedState.
func FromSnapshot(s Snapshot) (*Cache, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("object id cache version %d: %w", s.Version, common.ErrMalformedState)
	}
	c := New()
	for i, m := range s.Mappings {
		if m.SyncIdentifier == "" || m.ObjectID == "" || m.CreatedAt.IsZero() {
			return nil, fmt.Errorf("object id cache mapping %d incomplete: %w", i, common.ErrMalformedState)
		}
		c.Add(m.SyncIdentifier, m.ObjectID, m.CreatedAt)
	}
	return c, nil
}

// Decode parses a persisted cache. Every failure, including input that is not
// JSON at all, unwraps to common.ErrMalformedState.
func Decode(b []byte) (*Cache, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("object id cache: %w: %v", common.ErrMalformedState, err)
	}
	return FromSnapshot(s)
}

func (c *Cache) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToSnapshot())
}

// UnmarshalJSON only sees syntactically valid input; encoding/json rejects
// broken bytes before calling it. Use Decode to classify those too.
func (c *Cache) UnmarshalJSON(b []byte) error {
	decoded, err := Decode(b)
	if err != nil {
		return err
	}
	c.bySyncIdentifier = decoded.bySyncIdentifier
	return nil
}
