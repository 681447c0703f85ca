package services

import (
	"context"
	"errors"

	"github.com/loopkit/nightscoutservice/internal/models"
	"golang.org/x/sync/errgroup"
)

// Outcome is delivered by UploadAsync.
type Outcome struct {
	Results []Result
	Err     error
}

// SyncAll uploads every category of cs concurrently. Categories are
// independent: a failure in one does not stop the others. Results are in
// models.Categories order and hold an entry for every category that
// succeeded; the error joins one *SyncError per failed category.
func (c *Coordinator) SyncAll(ctx context.Context, cs models.ChangeSet) ([]Result, error) {
	uploads := map[models.Category]func(context.Context) (Result, error){
		models.CategoryGlucose: func(ctx context.Context) (Result, error) {
			return c.UploadGlucoseData(ctx, cs.Glucose)
		},
		models.CategoryCarbs: func(ctx context.Context) (Result, error) {
			return c.UploadCarbData(ctx, cs.Carbs)
		},
		models.CategoryDoses: func(ctx context.Context) (Result, error) {
			return c.UploadDoseData(ctx, cs.Doses.Created, cs.Doses.Deleted)
		},
		models.CategoryDosingDecisions: func(ctx context.Context) (Result, error) {
			return c.UploadDosingDecisionData(ctx, cs.DosingDecisions)
		},
		models.CategorySettings: func(ctx context.Context) (Result, error) {
			return c.UploadSettingsData(ctx, cs.Settings)
		},
		models.CategoryOverrides: func(ctx context.Context) (Result, error) {
			return c.UploadOverrideData(ctx, cs.Overrides.Updated, cs.Overrides.Deleted)
		},
	}

	results := make([]Result, len(models.Categories))
	errs := make([]error, len(models.Categories))

	// Plain Group, not WithContext: one category failing must not cancel
	// the others.
	var g errgroup.Group
	for i, category := range models.Categories {
		upload := uploads[category]
		g.Go(func() error {
			results[i], errs[i] = upload(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var ok []Result
	for i := range results {
		if errs[i] == nil {
			ok = append(ok, results[i])
		}
	}
	return ok, errors.Join(errs...)
}

// UploadAsync runs SyncAll in the background. The returned channel receives
// exactly one Outcome and is then closed.
func (c *Coordinator) UploadAsync(ctx context.Context, cs models.ChangeSet) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		results, err := c.SyncAll(ctx, cs)
		out <- Outcome{Results: results, Err: err}
	}()
	return out
}
