// Package models defines the locally recorded therapy records the service
// uploads and the Nightscout documents they are converted to.
package models

// Category names a kind of local record. Each category is synchronized
// independently.
type Category string

const (
	CategoryGlucose         Category = "glucose"
	CategoryCarbs           Category = "carbs"
	CategoryDoses           Category = "doses"
	CategoryDosingDecisions Category = "dosing_decisions"
	CategorySettings        Category = "settings"
	CategoryOverrides       Category = "overrides"
)

// Categories lists every category in upload order.
var Categories = []Category{
	CategoryGlucose,
	CategoryCarbs,
	CategoryDoses,
	CategoryDosingDecisions,
	CategorySettings,
	CategoryOverrides,
}

// DataLimit is the largest batch the caller should hand over per category.
// Dosing decisions and settings serialize to large documents and get smaller
// batches.
func (c Category) DataLimit() int {
	switch c {
	case CategoryDosingDecisions:
		return 50
	case CategorySettings:
		return 400
	default:
		return 1000
	}
}

// Record is a locally recorded value with a stable identity. SyncIdentifier
// may be empty for records that are never updated or deleted remotely.
type Record interface {
	SyncIdentifier() string
}
