package services

import (
	"fmt"

	"github.com/loopkit/nightscoutservice/internal/models"
)

// Step names a stage of a category upload.
type Step string

const (
	StepCreate Step = "create"
	StepUpdate Step = "update"
	StepDelete Step = "delete"
	// StepUpload is a plain upload without identity tracking.
	StepUpload Step = "upload"
)

// SyncError reports which category and step failed. It unwraps to the
// transport error, so errors.Is(err, remote.ErrUnavailable) works.
type SyncError struct {
	Category models.Category
	Step     Step
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Category, e.Step, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
