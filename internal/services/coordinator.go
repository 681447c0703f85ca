// Package services uploads local therapy data to Nightscout.
//
// Each category is uploaded by its own method. Categories that can be edited
// after creation (carbs, doses) run a create → update → delete sequence that
// remembers the object id Nightscout assigned to every created record, so
// later edits and deletions can address it. Each sequence stops at the first
// failing step and leaves the caller to retry the whole batch.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/loopkit/nightscoutservice/internal/objectid"
	"github.com/loopkit/nightscoutservice/internal/remote"
)

// Recorder receives upload metrics.
type Recorder interface {
	ObserveUpload(category models.Category, step Step, count int)
	ObserveFailure(category models.Category, step Step)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUpload(models.Category, Step, int) {}
func (nopRecorder) ObserveFailure(models.Category, Step)     {}

// Result describes a successful category upload.
type Result struct {
	Category models.Category
	// DidUpload is true when at least one record was sent.
	DidUpload bool
	// Disabled is true when no credentials are configured and nothing was
	// attempted.
	Disabled bool
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option  { return func(c *Coordinator) { c.now = now } }
func WithLogger(l logging.Logger) Option     { return func(c *Coordinator) { c.logger = l } }
func WithRecorder(r Recorder) Option         { return func(c *Coordinator) { c.recorder = r } }
func WithKeepTime(d time.Duration) Option    { return func(c *Coordinator) { c.keepTime = d } }
func WithSource(source string) Option        { return func(c *Coordinator) { c.source = source } }
func WithIDGenerator(f func() string) Option { return func(c *Coordinator) { c.newID = f } }

// Coordinator owns the object id cache and the service state.
type Coordinator struct {
	client   remote.Client
	states   *StateStore
	cache    *objectid.Locked
	now      func() time.Time
	logger   logging.Logger
	recorder Recorder
	keepTime time.Duration
	source   string
	newID    func() string

	stateMu   sync.Mutex
	onboarded bool

	decisionMu    sync.Mutex
	lastAutomatic *models.DosingDecision
}

// NewCoordinator loads the persisted state. client may be nil when no
// credentials are configured; every upload then succeeds without network
// access and reports Disabled.
func NewCoordinator(ctx context.Context, client remote.Client, states *StateStore, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		client:   client,
		states:   states,
		now:      time.Now,
		logger:   logging.Discard(),
		recorder: nopRecorder{},
		keepTime: common.ObjectIDCacheKeepTime,
		source:   "loop://nightscout-uploader",
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	state, err := states.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.onboarded = state.IsOnboarded
	c.cache = objectid.NewLocked(state.ObjectIDCache)
	return c, nil
}

// Enabled reports whether credentials are configured.
func (c *Coordinator) Enabled() bool { return c.client != nil }

// IsOnboarded reports whether setup was completed.
func (c *Coordinator) IsOnboarded() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.onboarded
}

// CompleteOnboarding marks setup as finished and persists it.
func (c *Coordinator) CompleteOnboarding(ctx context.Context) error {
	c.stateMu.Lock()
	c.onboarded = true
	c.stateMu.Unlock()
	return c.persist(ctx)
}

// CachedObjectID exposes the cache for diagnostics.
func (c *Coordinator) CachedObjectID(syncIdentifier string) (string, bool) {
	return c.cache.Lookup(syncIdentifier)
}

// VerifyConfiguration checks that the site accepts the configured secret.
func (c *Coordinator) VerifyConfiguration(ctx context.Context) error {
	if c.client == nil {
		return common.ErrMissingCredentials
	}
	return c.client.CheckAuth(ctx)
}

// FetchStoredTherapySettings restores therapy settings from the site's
// current profile, returning them with the profile's start date.
func (c *Coordinator) FetchStoredTherapySettings(ctx context.Context) (models.TherapySettings, time.Time, error) {
	if c.client == nil {
		return models.TherapySettings{}, time.Time{}, common.ErrMissingCredentials
	}
	profile, err := c.client.FetchCurrentProfile(ctx)
	if err != nil {
		return models.TherapySettings{}, time.Time{}, err
	}
	return profile.TherapySettings()
}

// cycle carries per-invocation bookkeeping for one category.
type cycle struct {
	category models.Category
	log      logging.Logger
	uploaded int
	added    bool
}

func (c *Coordinator) begin(ctx context.Context, category models.Category, batch int) *cycle {
	cy := &cycle{
		category: category,
		log:      c.logger.With("category", string(category), "cycle_id", c.newID()),
	}
	if limit := category.DataLimit(); batch > limit {
		cy.log.Warn(ctx, "batch exceeds data limit", "count", batch, "limit", limit)
	}
	return cy
}

func (c *Coordinator) fail(ctx context.Context, cy *cycle, step Step, err error) error {
	c.recorder.ObserveFailure(cy.category, step)
	cy.log.Error(ctx, "upload failed", "step", string(step), "error", err)

	// Records created earlier in this cycle exist remotely; keep their ids.
	if cy.added {
		if perr := c.persist(ctx); perr != nil {
			cy.log.Error(ctx, "failed to persist service state", "error", perr)
		}
	}
	return &SyncError{Category: cy.category, Step: step, Err: err}
}

func (c *Coordinator) succeeded(ctx context.Context, cy *cycle, step Step, n int) {
	if n == 0 {
		return
	}
	cy.uploaded += n
	c.recorder.ObserveUpload(cy.category, step, n)
	cy.log.Debug(ctx, "upload step done", "step", string(step), "count", n)
}

// pending is a record about to be created.
type pending struct {
	syncID  string
	payload any
}

// create posts records in one batch and caches the returned ids, paired with
// the records by position. Nothing is cached unless the whole batch succeeds
// and yields exactly one id per record.
func (c *Coordinator) create(ctx context.Context, cy *cycle, coll remote.Collection, records []pending) error {
	if len(records) == 0 {
		return nil
	}

	payloads := make([]any, len(records))
	for i, r := range records {
		payloads[i] = r.payload
	}

	ids, err := c.client.CreateRecords(ctx, coll, payloads)
	if err != nil {
		return c.fail(ctx, cy, StepCreate, err)
	}
	if len(ids) != len(records) {
		return c.fail(ctx, cy, StepCreate,
			fmt.Errorf("%w: sent %d, got %d", remote.ErrIdentityMismatch, len(records), len(ids)))
	}

	at := c.now()
	mappings := make([]objectid.Mapping, 0, len(records))
	for i, r := range records {
		if r.syncID == "" || ids[i] == "" {
			continue
		}
		mappings = append(mappings, objectid.Mapping{SyncIdentifier: r.syncID, ObjectID: ids[i], CreatedAt: at})
	}
	c.cache.AddAll(mappings)
	cy.added = cy.added || len(mappings) > 0

	c.succeeded(ctx, cy, StepCreate, len(records))
	return nil
}

func (c *Coordinator) update(ctx context.Context, cy *cycle, coll remote.Collection, payloads []any) error {
	if len(payloads) == 0 {
		return nil
	}
	if err := c.client.UpdateRecords(ctx, coll, payloads); err != nil {
		return c.fail(ctx, cy, StepUpdate, err)
	}
	c.succeeded(ctx, cy, StepUpdate, len(payloads))
	return nil
}

func (c *Coordinator) delete(ctx context.Context, cy *cycle, coll remote.Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.DeleteRecords(ctx, coll, ids); err != nil {
		return c.fail(ctx, cy, StepDelete, err)
	}
	c.succeeded(ctx, cy, StepDelete, len(ids))
	return nil
}

// upload posts payloads whose ids are not tracked.
func (c *Coordinator) upload(ctx context.Context, cy *cycle, coll remote.Collection, payloads []any) error {
	if len(payloads) == 0 {
		return nil
	}
	if _, err := c.client.CreateRecords(ctx, coll, payloads); err != nil {
		return c.fail(ctx, cy, StepUpload, err)
	}
	c.succeeded(ctx, cy, StepUpload, len(payloads))
	return nil
}

// finish purges expired mappings and persists the state. The cache is not
// authoritative, so a persistence failure is logged and the upload still
// counts as successful.
func (c *Coordinator) finish(ctx context.Context, cy *cycle, tracked bool) Result {
	if tracked {
		if n := c.cache.Purge(c.now().Add(-c.keepTime)); n > 0 {
			cy.log.Debug(ctx, "purged object ids", "count", n)
		}
		if err := c.persist(ctx); err != nil {
			cy.log.Error(ctx, "failed to persist service state", "error", err)
		}
	}
	if cy.uploaded > 0 {
		cy.log.Info(ctx, "uploaded", "count", cy.uploaded)
	}
	return Result{Category: cy.category, DidUpload: cy.uploaded > 0}
}

func (c *Coordinator) persist(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.states.Save(ctx, State{IsOnboarded: c.onboarded, ObjectIDCache: c.cache.Snapshot()})
}

// resolve maps records to cached object ids, dropping records without one.
func resolve[T models.Record](cache *objectid.Locked, records []T) ([]T, []string) {
	syncIDs := make([]string, 0, len(records))
	for _, r := range records {
		if id := r.SyncIdentifier(); id != "" {
			syncIDs = append(syncIDs, id)
		}
	}
	known := cache.Resolve(syncIDs)

	var kept []T
	var ids []string
	for _, r := range records {
		if oid, ok := known[r.SyncIdentifier()]; ok {
			kept = append(kept, r)
			ids = append(ids, oid)
		}
	}
	return kept, ids
}

func disabled(category models.Category) Result {
	return Result{Category: category, Disabled: true}
}
