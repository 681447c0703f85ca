package models

// ChangeSet is one batch of local changes for every category, as handed to
// the uploader. Empty categories are skipped.
type ChangeSet struct {
	Glucose         []GlucoseSample    `json:"glucose,omitempty"`
	Carbs           Changes[CarbEntry] `json:"carbs"`
	Doses           DoseChanges        `json:"doses"`
	DosingDecisions []DosingDecision   `json:"dosing_decisions,omitempty"`
	Settings        []StoredSettings   `json:"settings,omitempty"`
	Overrides       OverrideChanges    `json:"overrides"`
}

// Changes are the created, updated and deleted records of one category.
type Changes[T Record] struct {
	Created []T `json:"created,omitempty"`
	Updated []T `json:"updated,omitempty"`
	Deleted []T `json:"deleted,omitempty"`
}

func (c Changes[T]) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// DoseChanges has no updates: a changed dose is reposted as created.
type DoseChanges struct {
	Created []DoseEntry `json:"created,omitempty"`
	Deleted []DoseEntry `json:"deleted,omitempty"`
}

type OverrideChanges struct {
	Updated []TemporaryOverride `json:"updated,omitempty"`
	Deleted []TemporaryOverride `json:"deleted,omitempty"`
}
