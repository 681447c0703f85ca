package services

import (
	"context"

	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/loopkit/nightscoutservice/internal/remote"
)

// UploadCarbData creates, updates and deletes carb entries, in that order.
// Updates and deletions of entries whose object id is not cached are skipped.
func (c *Coordinator) UploadCarbData(ctx context.Context, changes models.Changes[models.CarbEntry]) (Result, error) {
	if c.client == nil {
		return disabled(models.CategoryCarbs), nil
	}
	cy := c.begin(ctx, models.CategoryCarbs, len(changes.Created)+len(changes.Updated)+len(changes.Deleted))

	created := make([]pending, len(changes.Created))
	for i, e := range changes.Created {
		created[i] = pending{syncID: e.SyncID, payload: e.Treatment(c.source, "")}
	}
	if err := c.create(ctx, cy, remote.CollectionTreatments, created); err != nil {
		return Result{}, err
	}

	updated, updatedIDs := resolve(c.cache, changes.Updated)
	payloads := make([]any, len(updated))
	for i, e := range updated {
		payloads[i] = e.Treatment(c.source, updatedIDs[i])
	}
	if err := c.update(ctx, cy, remote.CollectionTreatments, payloads); err != nil {
		return Result{}, err
	}

	_, deletedIDs := resolve(c.cache, changes.Deleted)
	if err := c.delete(ctx, cy, remote.CollectionTreatments, deletedIDs); err != nil {
		return Result{}, err
	}

	return c.finish(ctx, cy, true), nil
}

// UploadDoseData creates doses, then deletes those that are no longer
// mutable. A changed dose is reposted as created. Basal doses have no
// treatment and are not sent.
func (c *Coordinator) UploadDoseData(ctx context.Context, created, deleted []models.DoseEntry) (Result, error) {
	if c.client == nil {
		return disabled(models.CategoryDoses), nil
	}
	cy := c.begin(ctx, models.CategoryDoses, len(created)+len(deleted))

	records := make([]pending, 0, len(created))
	for _, d := range created {
		if t, ok := d.Treatment(c.source); ok {
			records = append(records, pending{syncID: d.SyncID, payload: t})
		}
	}
	if err := c.create(ctx, cy, remote.CollectionTreatments, records); err != nil {
		return Result{}, err
	}

	immutable := make([]models.DoseEntry, 0, len(deleted))
	for _, d := range deleted {
		if !d.IsMutable() {
			immutable = append(immutable, d)
		}
	}
	_, deletedIDs := resolve(c.cache, immutable)
	if err := c.delete(ctx, cy, remote.CollectionTreatments, deletedIDs); err != nil {
		return Result{}, err
	}

	return c.finish(ctx, cy, true), nil
}

// UploadGlucoseData uploads samples as entries.
func (c *Coordinator) UploadGlucoseData(ctx context.Context, samples []models.GlucoseSample) (Result, error) {
	if c.client == nil {
		return disabled(models.CategoryGlucose), nil
	}
	cy := c.begin(ctx, models.CategoryGlucose, len(samples))

	payloads := make([]any, len(samples))
	for i, s := range samples {
		payloads[i] = s.Entry(c.source)
	}
	if err := c.upload(ctx, cy, remote.CollectionEntries, payloads); err != nil {
		return Result{}, err
	}
	return c.finish(ctx, cy, false), nil
}

// UploadSettingsData uploads every snapshot that can be expressed as a
// profile.
func (c *Coordinator) UploadSettingsData(ctx context.Context, settings []models.StoredSettings) (Result, error) {
	if c.client == nil {
		return disabled(models.CategorySettings), nil
	}
	cy := c.begin(ctx, models.CategorySettings, len(settings))

	payloads := make([]any, 0, len(settings))
	for _, s := range settings {
		if ps, ok := s.ProfileSet(); ok {
			payloads = append(payloads, ps)
		}
	}
	if err := c.upload(ctx, cy, remote.CollectionProfile, payloads); err != nil {
		return Result{}, err
	}
	return c.finish(ctx, cy, false), nil
}

// UploadDosingDecisionData uploads one device status per bolus decision,
// combined with the most recent automatic decision seen before it. The last
// automatic decision is remembered across calls until an upload succeeds.
func (c *Coordinator) UploadDosingDecisionData(ctx context.Context, decisions []models.DosingDecision) (Result, error) {
	if c.client == nil {
		return disabled(models.CategoryDosingDecisions), nil
	}
	cy := c.begin(ctx, models.CategoryDosingDecisions, len(decisions))

	c.decisionMu.Lock()
	defer c.decisionMu.Unlock()

	var statuses []any
	for _, d := range decisions {
		switch {
		case d.IsAutomatic():
			automatic := d
			c.lastAutomatic = &automatic
		case d.IsBolus():
			statuses = append(statuses, d.DeviceStatus(c.source, c.lastAutomatic))
		}
	}

	if err := c.upload(ctx, cy, remote.CollectionDeviceStatus, statuses); err != nil {
		return Result{}, err
	}
	if len(statuses) > 0 {
		c.lastAutomatic = nil
	}
	return c.finish(ctx, cy, false), nil
}

// UploadOverrideData deletes overrides by sync identifier, then upserts the
// updated ones. Override treatments use the sync identifier as their object
// id, so no cache is involved.
func (c *Coordinator) UploadOverrideData(ctx context.Context, updated, deleted []models.TemporaryOverride) (Result, error) {
	if c.client == nil {
		return disabled(models.CategoryOverrides), nil
	}
	cy := c.begin(ctx, models.CategoryOverrides, len(updated)+len(deleted))

	ids := make([]string, 0, len(deleted))
	for _, o := range deleted {
		if o.SyncID != "" {
			ids = append(ids, o.SyncID)
		}
	}
	if err := c.delete(ctx, cy, remote.CollectionTreatments, ids); err != nil {
		return Result{}, err
	}

	payloads := make([]any, len(updated))
	for i, o := range updated {
		payloads[i] = o.Treatment()
	}
	if err := c.upload(ctx, cy, remote.CollectionTreatments, payloads); err != nil {
		return Result{}, err
	}
	return c.finish(ctx, cy, false), nil
}
