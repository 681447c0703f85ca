package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/loopkit/nightscoutservice/internal/objectid"
	"github.com/loopkit/nightscoutservice/internal/remote"
	"github.com/loopkit/nightscoutservice/internal/repositories/metadata"
	"github.com/loopkit/nightscoutservice/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2022, 12, 2, 17, 20, 0, 0, time.UTC)

/*************
 * Fake remote client
 *************/

type call struct {
	op       string
	coll     remote.Collection
	payloads []any
	ids      []string
}

type fakeClient struct {
	remote.Client

	mu     sync.Mutex
	calls  []call
	nextID int

	createErr map[remote.Collection]error
	updateErr error
	deleteErr error
	dropIDs   int
	profile   *models.ProfileSet
	authErr   error
}

func (f *fakeClient) CreateRecords(ctx context.Context, coll remote.Collection, payloads []any) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "create", coll: coll, payloads: payloads})
	if err := f.createErr[coll]; err != nil {
		return nil, err
	}
	ids := make([]string, len(payloads))
	for i := range payloads {
		f.nextID++
		ids[i] = fmt.Sprintf("obj-%d", f.nextID)
	}
	return ids[:len(ids)-f.dropIDs], nil
}

func (f *fakeClient) UpdateRecords(ctx context.Context, coll remote.Collection, payloads []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "update", coll: coll, payloads: payloads})
	return f.updateErr
}

func (f *fakeClient) DeleteRecords(ctx context.Context, coll remote.Collection, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "delete", coll: coll, ids: ids})
	return f.deleteErr
}

func (f *fakeClient) CheckAuth(ctx context.Context) error { return f.authErr }

func (f *fakeClient) FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error) {
	if f.profile == nil {
		return nil, remote.ErrUnavailable
	}
	return f.profile, nil
}

func (f *fakeClient) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op + ":" + string(c.coll)
	}
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	uploads  map[string]int
	failures map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{uploads: map[string]int{}, failures: map[string]int{}}
}

func (r *fakeRecorder) ObserveUpload(c models.Category, s Step, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[string(c)+"/"+string(s)] += n
}

func (r *fakeRecorder) ObserveFailure(c models.Category, s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[string(c)+"/"+string(s)]++
}

/*************
 * Helpers
 *************/

type fixture struct {
	client *fakeClient
	repo   metadata.Repository
	states *StateStore
	rec    *fakeRecorder
	coord  *Coordinator
}

func newFixture(t *testing.T, client *fakeClient, seed *objectid.Cache) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := metadata.NewSQLiteRepository(db)
	states := NewStateStore(repo, logging.Discard())
	if seed != nil {
		require.NoError(t, states.Save(ctx, State{IsOnboarded: true, ObjectIDCache: seed}))
	}

	f := &fixture{client: client, repo: repo, states: states, rec: newFakeRecorder()}

	var rc remote.Client
	if client != nil {
		rc = client
	}
	f.coord, err = NewCoordinator(ctx, rc, states,
		WithClock(func() time.Time { return now }),
		WithRecorder(f.rec),
		WithSource("loop://test"),
		WithIDGenerator(func() string { return "cycle" }),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) persisted(t *testing.T) *objectid.Cache {
	t.Helper()
	state, err := f.states.Load(context.Background())
	require.NoError(t, err)
	return state.ObjectIDCache
}

func carb(id string, grams float64) models.CarbEntry {
	return models.CarbEntry{SyncID: id, StartDate: now.Add(-time.Hour), Grams: grams}
}

func requireSyncError(t *testing.T, err error, category models.Category, step Step) *SyncError {
	t.Helper()
	var se *SyncError
	require.True(t, errors.As(err, &se), "expected *SyncError, got %v", err)
	assert.Equal(t, category, se.Category)
	assert.Equal(t, step, se.Step)
	return se
}

/*************
 * Tests
 *************/

func TestUpload_NoCredentialsIsDisabledSuccess(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	res, err := f.coord.UploadCarbData(ctx, models.Changes[models.CarbEntry]{Created: []models.CarbEntry{carb("c1", 10)}})
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.False(t, res.DidUpload)

	results, err := f.coord.SyncAll(ctx, models.ChangeSet{Glucose: []models.GlucoseSample{{Date: now, MgdL: 100}}})
	require.NoError(t, err)
	require.Len(t, results, len(models.Categories))
	for _, r := range results {
		assert.True(t, r.Disabled, r.Category)
	}

	_, err = f.repo.Get(ctx, common.ServiceStateKey)
	require.ErrorIs(t, err, common.ErrorNotFound, "disabled uploads must not write state")
	require.ErrorIs(t, f.coord.VerifyConfiguration(ctx), common.ErrMissingCredentials)
}

func TestUploadCarbData_CreateThenUpdateThenDelete(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	res, err := f.coord.UploadCarbData(ctx, models.Changes[models.CarbEntry]{
		Created: []models.CarbEntry{carb("c1", 10), carb("c2", 20)},
	})
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	oid, ok := f.coord.CachedObjectID("c2")
	require.True(t, ok)
	assert.Equal(t, "obj-2", oid)

	// The next batch edits c1 and deletes c2 using the cached ids.
	res, err = f.coord.UploadCarbData(ctx, models.Changes[models.CarbEntry]{
		Updated: []models.CarbEntry{carb("c1", 15)},
		Deleted: []models.CarbEntry{carb("c2", 20)},
	})
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	assert.Equal(t, []string{"create:treatments", "update:treatments", "delete:treatments"}, client.ops())
	upd := client.calls[1].payloads[0].(models.Treatment)
	assert.Equal(t, "obj-1", upd.ID)
	assert.Equal(t, 15, *upd.Carbs)
	assert.Equal(t, []string{"obj-2"}, client.calls[2].ids)

	persisted := f.persisted(t)
	assert.Equal(t, 2, persisted.Len())
	assert.Equal(t, 2, f.rec.uploads["carbs/create"])
	assert.Equal(t, 1, f.rec.uploads["carbs/update"])
	assert.Equal(t, 1, f.rec.uploads["carbs/delete"])
}

func TestUploadCarbData_SameBatchCreateAndUpdate(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)

	_, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{
		Created: []models.CarbEntry{carb("c1", 10)},
		Updated: []models.CarbEntry{carb("c1", 12)},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"create:treatments", "update:treatments"}, client.ops())
	assert.Equal(t, "obj-1", client.calls[1].payloads[0].(models.Treatment).ID)
}

func TestUploadCarbData_UnknownIdsSkipWithoutNetwork(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)

	res, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{
		Updated: []models.CarbEntry{carb("ghost", 1)},
		Deleted: []models.CarbEntry{carb("ghost2", 1)},
	})
	require.NoError(t, err)
	assert.False(t, res.DidUpload)
	assert.Empty(t, client.ops())
}

func TestUploadCarbData_CreateFailureMutatesNothing(t *testing.T) {
	client := &fakeClient{createErr: map[remote.Collection]error{remote.CollectionTreatments: remote.ErrUnavailable}}
	f := newFixture(t, client, nil)

	_, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{
		Created: []models.CarbEntry{carb("c1", 10)},
		Updated: []models.CarbEntry{carb("c1", 11)},
		Deleted: []models.CarbEntry{carb("c1", 11)},
	})
	requireSyncError(t, err, models.CategoryCarbs, StepCreate)
	require.ErrorIs(t, err, remote.ErrUnavailable)

	_, ok := f.coord.CachedObjectID("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"create:treatments"}, client.ops(), "later steps must not run")
	assert.Equal(t, 1, f.rec.failures["carbs/create"])

	_, err = f.repo.Get(context.Background(), common.ServiceStateKey)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUploadCarbData_IdentityMismatchMutatesNothing(t *testing.T) {
	client := &fakeClient{dropIDs: 1}
	f := newFixture(t, client, nil)

	_, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{
		Created: []models.CarbEntry{carb("c1", 10), carb("c2", 20)},
	})
	requireSyncError(t, err, models.CategoryCarbs, StepCreate)
	require.ErrorIs(t, err, remote.ErrIdentityMismatch)

	_, ok := f.coord.CachedObjectID("c1")
	assert.False(t, ok)
}

func TestUploadCarbData_UpdateFailureKeepsCreatedIds(t *testing.T) {
	client := &fakeClient{updateErr: remote.ErrUnauthorized}
	f := newFixture(t, client, nil)

	_, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{
		Created: []models.CarbEntry{carb("c1", 10)},
		Updated: []models.CarbEntry{carb("c1", 11)},
		Deleted: []models.CarbEntry{carb("c1", 11)},
	})
	requireSyncError(t, err, models.CategoryCarbs, StepUpdate)
	require.ErrorIs(t, err, remote.ErrUnauthorized)

	assert.Equal(t, []string{"create:treatments", "update:treatments"}, client.ops())
	_, ok := f.persisted(t).Lookup("c1")
	assert.True(t, ok, "ids of created records are persisted even when a later step fails")
}

func TestUploadCarbData_PurgesExpiredMappings(t *testing.T) {
	seed := objectid.New()
	seed.Add("old", "obj-old", now.Add(-25*time.Hour))
	seed.Add("edge", "obj-edge", now.Add(-24*time.Hour))
	seed.Add("recent", "obj-recent", now.Add(-time.Hour))

	client := &fakeClient{}
	f := newFixture(t, client, seed)

	_, err := f.coord.UploadCarbData(context.Background(), models.Changes[models.CarbEntry]{})
	require.NoError(t, err)

	persisted := f.persisted(t)
	_, ok := persisted.Lookup("old")
	assert.False(t, ok)
	_, ok = persisted.Lookup("edge")
	assert.True(t, ok, "a mapping exactly at the cutoff is kept")
	_, ok = persisted.Lookup("recent")
	assert.True(t, ok)
}

func TestUploadDoseData(t *testing.T) {
	seed := objectid.New()
	seed.Add("final", "obj-final", now.Add(-time.Hour))
	seed.Add("running", "obj-running", now.Add(-time.Hour))

	client := &fakeClient{}
	f := newFixture(t, client, seed)

	res, err := f.coord.UploadDoseData(context.Background(),
		[]models.DoseEntry{
			{SyncID: "b1", Type: models.DoseBolus, StartDate: now, EndDate: now.Add(time.Minute), ProgrammedUnits: 1},
			{SyncID: "basal", Type: models.DoseBasal, StartDate: now, EndDate: now.Add(time.Hour)},
		},
		[]models.DoseEntry{
			{SyncID: "final", Type: models.DoseTempBasal},
			{SyncID: "running", Type: models.DoseTempBasal, Mutable: true},
			{SyncID: "unknown", Type: models.DoseTempBasal},
		},
	)
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	require.Equal(t, []string{"create:treatments", "delete:treatments"}, client.ops())
	assert.Len(t, client.calls[0].payloads, 1, "basal is not sent")
	assert.Equal(t, []string{"obj-final"}, client.calls[1].ids)

	oid, ok := f.coord.CachedObjectID("b1")
	require.True(t, ok)
	assert.Equal(t, "obj-1", oid)
}

func TestUploadDosingDecisionData_PairsWithLastAutomatic(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	iob := &models.TimedValue{Date: now.Add(-10 * time.Minute), Value: 3}
	automatic := models.DosingDecision{Date: now.Add(-10 * time.Minute), Reason: models.ReasonLoop, InsulinOnBoard: iob}

	// Only an automatic decision: nothing to send, but it is remembered.
	res, err := f.coord.UploadDosingDecisionData(ctx, []models.DosingDecision{automatic})
	require.NoError(t, err)
	assert.False(t, res.DidUpload)
	assert.Empty(t, client.ops())

	res, err = f.coord.UploadDosingDecisionData(ctx, []models.DosingDecision{
		{Date: now, Reason: models.ReasonNormalBolus},
		{Date: now, Reason: "somethingElse"},
	})
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	require.Equal(t, []string{"create:devicestatus"}, client.ops())
	require.Len(t, client.calls[0].payloads, 1)
	status := client.calls[0].payloads[0].(models.DeviceStatus)
	require.NotNil(t, status.Loop.IOB)
	assert.Equal(t, 3.0, status.Loop.IOB.IOB)

	// The automatic decision was consumed by the successful upload.
	_, err = f.coord.UploadDosingDecisionData(ctx, []models.DosingDecision{{Date: now, Reason: models.ReasonWatchBolus}})
	require.NoError(t, err)
	second := client.calls[1].payloads[0].(models.DeviceStatus)
	assert.Nil(t, second.Loop.IOB)
}

func TestUploadOverrideData_DeletesThenUpserts(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)

	res, err := f.coord.UploadOverrideData(context.Background(),
		[]models.TemporaryOverride{{SyncID: "ov-new", StartDate: now, Context: models.OverrideCustom}},
		[]models.TemporaryOverride{{SyncID: "ov-old", StartDate: now}},
	)
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	require.Equal(t, []string{"delete:treatments", "create:treatments"}, client.ops())
	assert.Equal(t, []string{"ov-old"}, client.calls[0].ids)
	assert.Equal(t, "ov-new", client.calls[1].payloads[0].(models.Treatment).ID)
}

func TestUploadOverrideData_DeleteFailureSkipsUpsert(t *testing.T) {
	client := &fakeClient{deleteErr: remote.ErrUnavailable}
	f := newFixture(t, client, nil)

	_, err := f.coord.UploadOverrideData(context.Background(),
		[]models.TemporaryOverride{{SyncID: "ov-new", StartDate: now}},
		[]models.TemporaryOverride{{SyncID: "ov-old", StartDate: now}},
	)
	requireSyncError(t, err, models.CategoryOverrides, StepDelete)
	assert.Equal(t, []string{"delete:treatments"}, client.ops())
}

func TestUploadGlucoseAndSettings(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	res, err := f.coord.UploadGlucoseData(ctx, []models.GlucoseSample{{Date: now, MgdL: 110}, {Date: now, MgdL: 112}})
	require.NoError(t, err)
	assert.True(t, res.DidUpload)

	res, err = f.coord.UploadGlucoseData(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.DidUpload)

	// A snapshot without schedules cannot become a profile and is dropped.
	res, err = f.coord.UploadSettingsData(ctx, []models.StoredSettings{{SyncID: "s1", Date: now}})
	require.NoError(t, err)
	assert.False(t, res.DidUpload)

	assert.Equal(t, []string{"create:entries"}, client.ops())
	assert.Equal(t, 2, f.rec.uploads["glucose/upload"])
}

func TestSyncAll_CategoriesAreIndependent(t *testing.T) {
	client := &fakeClient{createErr: map[remote.Collection]error{remote.CollectionEntries: remote.ErrUnavailable}}
	f := newFixture(t, client, nil)

	results, err := f.coord.SyncAll(context.Background(), models.ChangeSet{
		Glucose: []models.GlucoseSample{{Date: now, MgdL: 100}},
		Carbs:   models.Changes[models.CarbEntry]{Created: []models.CarbEntry{carb("c1", 10)}},
	})
	requireSyncError(t, err, models.CategoryGlucose, StepUpload)
	require.ErrorIs(t, err, remote.ErrUnavailable)

	require.Len(t, results, len(models.Categories)-1)
	byCategory := map[models.Category]Result{}
	for _, r := range results {
		byCategory[r.Category] = r
	}
	assert.NotContains(t, byCategory, models.CategoryGlucose)
	assert.True(t, byCategory[models.CategoryCarbs].DidUpload)
	assert.False(t, byCategory[models.CategoryDoses].DidUpload)

	_, ok := f.coord.CachedObjectID("c1")
	assert.True(t, ok)
}

func TestUploadAsync_DeliversOneOutcome(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client, nil)

	ch := f.coord.UploadAsync(context.Background(), models.ChangeSet{
		Carbs: models.Changes[models.CarbEntry]{Created: []models.CarbEntry{carb("c1", 10)}},
	})

	select {
	case out, ok := <-ch:
		require.True(t, ok)
		require.NoError(t, out.Err)
		assert.Len(t, out.Results, len(models.Categories))
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome")
	}
	_, open := <-ch
	assert.False(t, open)
}

func TestVerifyConfigurationAndTherapySettings(t *testing.T) {
	threshold := 70.0
	client := &fakeClient{
		authErr: remote.ErrUnauthorized,
		profile: &models.ProfileSet{
			StartDate:      "2022-12-01T00:00:00.000Z",
			Units:          models.UnitMgdL,
			DefaultProfile: "Default",
			Store: map[string]models.Profile{"Default": {
				Basal: []models.ScheduleItem{{Time: "00:00", Value: 0.9}},
			}},
			Settings: models.LoopSettings{MinimumBGGuard: &threshold},
		},
	}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.coord.VerifyConfiguration(ctx), remote.ErrUnauthorized)

	ts, start, err := f.coord.FetchStoredTherapySettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70.0, ts.SuspendThreshold)
	assert.Equal(t, 0.9, ts.BasalSchedule[0].Value)
	assert.True(t, start.Equal(time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC)))

	client.profile.Settings.MinimumBGGuard = nil
	_, _, err = f.coord.FetchStoredTherapySettings(ctx)
	require.ErrorIs(t, err, models.ErrIncompatibleTherapySettings)
}

func TestStateStore_Load(t *testing.T) {
	ctx := context.Background()
	db, err := storage.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := metadata.NewSQLiteRepository(db)
	states := NewStateStore(repo, nil)

	t.Run("missing document", func(t *testing.T) {
		state, err := states.Load(ctx)
		require.NoError(t, err)
		assert.False(t, state.IsOnboarded)
		assert.Zero(t, state.ObjectIDCache.Len())
	})

	t.Run("legacy document without onboarding flag", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, common.ServiceStateKey, []byte(`{"version":1}`)))
		state, err := states.Load(ctx)
		require.NoError(t, err)
		assert.True(t, state.IsOnboarded)
	})

	t.Run("malformed cache is replaced by an empty one", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, common.ServiceStateKey,
			[]byte(`{"version":1,"is_onboarded":false,"object_id_cache":{"version":99,"mappings":[]}}`)))
		state, err := states.Load(ctx)
		require.NoError(t, err)
		assert.False(t, state.IsOnboarded)
		assert.Zero(t, state.ObjectIDCache.Len())
	})

	t.Run("garbage document", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, common.ServiceStateKey, []byte(`not json`)))
		state, err := states.Load(ctx)
		require.NoError(t, err)
		assert.Zero(t, state.ObjectIDCache.Len())
	})

	t.Run("round trip", func(t *testing.T) {
		cache := objectid.New()
		cache.Add("s1", "o1", now)
		require.NoError(t, states.Save(ctx, State{IsOnboarded: true, ObjectIDCache: cache}))

		raw, err := repo.Get(ctx, common.ServiceStateKey)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, 1.0, doc["version"])
		assert.Equal(t, true, doc["is_onboarded"])

		state, err := states.Load(ctx)
		require.NoError(t, err)
		oid, ok := state.ObjectIDCache.Lookup("s1")
		require.True(t, ok)
		assert.Equal(t, "o1", oid)
	})
}

func TestCompleteOnboarding(t *testing.T) {
	f := newFixture(t, &fakeClient{}, nil)
	require.False(t, f.coord.IsOnboarded())

	require.NoError(t, f.coord.CompleteOnboarding(context.Background()))
	assert.True(t, f.coord.IsOnboarded())

	state, err := f.states.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsOnboarded)
}
