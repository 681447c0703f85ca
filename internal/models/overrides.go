package models

import "time"

// Override contexts.
const (
	OverrideCustom        = "custom"
	OverrideLegacyWorkout = "legacy_workout"
	OverridePreMeal       = "pre_meal"
	OverridePreset        = "preset"
)

// TemporaryOverride temporarily adjusts targets and insulin needs.
type TemporaryOverride struct {
	SyncID    string    `json:"sync_identifier"`
	StartDate time.Time `json:"start_date"`
	// Duration is nil for an indefinite override.
	Duration                *time.Duration `json:"duration,omitempty"`
	Context                 string         `json:"context"`
	PresetSymbol            string         `json:"preset_symbol,omitempty"`
	PresetName              string         `json:"preset_name,omitempty"`
	TargetRange             *GlucoseRange  `json:"target_range,omitempty"` // mg/dL
	InsulinNeedsScaleFactor *float64       `json:"insulin_needs_scale_factor,omitempty"`
	// RemoteAddress is set when the override was enacted by a remote command.
	RemoteAddress string `json:"remote_address,omitempty"`
}

func (o TemporaryOverride) SyncIdentifier() string { return o.SyncID }

func (o TemporaryOverride) reason() string {
	switch o.Context {
	case OverrideLegacyWorkout:
		return "Workout"
	case OverridePreMeal:
		return "Pre-Meal"
	case OverridePreset:
		return o.PresetSymbol + " " + o.PresetName
	default:
		return "Custom Override"
	}
}

// Treatment converts the override. Override treatments are keyed by their
// sync identifier, so the same document is upserted on every change and can
// be deleted without a cached object id.
func (o TemporaryOverride) Treatment() Treatment {
	t := Treatment{
		ID:                      o.SyncID,
		EventType:               EventTemporaryOverride,
		CreatedAt:               formatTime(o.StartDate),
		Timestamp:               formatTime(o.StartDate),
		EnteredBy:               "Loop",
		Reason:                  o.reason(),
		InsulinNeedsScaleFactor: o.InsulinNeedsScaleFactor,
	}
	if o.RemoteAddress != "" {
		t.EnteredBy = "Loop (via remote command)"
		t.RemoteAddress = o.RemoteAddress
	}
	if o.Duration != nil {
		t.Duration = ptr(o.Duration.Minutes())
	} else {
		t.DurationType = "indefinite"
	}
	if r := o.TargetRange; r != nil {
		t.CorrectionRange = []float64{r.Min, r.Max}
	}
	return t
}
