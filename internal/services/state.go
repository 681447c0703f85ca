package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/objectid"
	"github.com/loopkit/nightscoutservice/internal/repositories/metadata"
)

const stateVersion = 1

// State is what the service persists between runs.
type State struct {
	IsOnboarded   bool
	ObjectIDCache *objectid.Cache
}

type stateDocument struct {
	Version     int             `json:"version"`
	IsOnboarded *bool           `json:"is_onboarded,omitempty"`
	Cache       json.RawMessage `json:"object_id_cache,omitempty"`
}

// StateStore reads and writes State in the metadata table.
type StateStore struct {
	repo   metadata.Repository
	logger logging.Logger
}

func NewStateStore(repo metadata.Repository, logger logging.Logger) *StateStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StateStore{repo: repo, logger: logger}
}

// Load returns the persisted state. A missing document yields a fresh,
// not-onboarded state. An unreadable document or cache is replaced by an
// empty cache and logged; it is never an error, because the cache can be
// rebuilt. Storage errors are returned.
func (s *StateStore) Load(ctx context.Context) (State, error) {
	raw, err := s.repo.Get(ctx, common.ServiceStateKey)
	if errors.Is(err, common.ErrorNotFound) {
		return State{ObjectIDCache: objectid.New()}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load service state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Version != stateVersion {
		s.logger.Warn(ctx, "discarding unreadable service state", "error", err, "version", doc.Version)
		return State{IsOnboarded: true, ObjectIDCache: objectid.New()}, nil
	}

	// Documents written before onboarding was tracked belong to services
	// that were already set up.
	state := State{IsOnboarded: doc.IsOnboarded == nil || *doc.IsOnboarded}

	cache := objectid.New()
	if len(doc.Cache) > 0 {
		decoded, err := objectid.Decode(doc.Cache)
		if err != nil {
			s.logger.Warn(ctx, "discarding unreadable object id cache", "error", err)
		} else {
			cache = decoded
		}
	}
	state.ObjectIDCache = cache
	return state, nil
}

func (s *StateStore) Save(ctx context.Context, state State) error {
	cache := state.ObjectIDCache
	if cache == nil {
		cache = objectid.New()
	}
	encodedCache, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode object id cache: %w", err)
	}

	onboarded := state.IsOnboarded
	raw, err := json.Marshal(stateDocument{Version: stateVersion, IsOnboarded: &onboarded, Cache: encodedCache})
	if err != nil {
		return fmt.Errorf("encode service state: %w", err)
	}
	if err := s.repo.Set(ctx, common.ServiceStateKey, raw); err != nil {
		return fmt.Errorf("save service state: %w", err)
	}
	return nil
}
