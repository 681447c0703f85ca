package models

import (
	"math"
	"time"
)

// CarbEntry is a carbohydrate entry.
type CarbEntry struct {
	SyncID         string         `json:"sync_identifier"`
	StartDate      time.Time      `json:"start_date"`
	Grams          float64        `json:"grams"`
	AbsorptionTime *time.Duration `json:"absorption_time,omitempty"`
	FoodType       string         `json:"food_type,omitempty"`
	UserCreatedAt  *time.Time     `json:"user_created_at,omitempty"`
	UserUpdatedAt  *time.Time     `json:"user_updated_at,omitempty"`
}

func (c CarbEntry) SyncIdentifier() string { return c.SyncID }

// Treatment converts the entry to a Carb Correction treatment. objectID is
// set on updates and left empty on creates.
func (c CarbEntry) Treatment(source, objectID string) Treatment {
	t := Treatment{
		ID:             objectID,
		EventType:      EventCarbCorrection,
		CreatedAt:      formatTime(c.StartDate),
		Timestamp:      formatTime(c.StartDate),
		EnteredBy:      source,
		SyncIdentifier: c.SyncID,
		Carbs:          ptr(int(math.Round(c.Grams))),
		FoodType:       c.FoodType,
	}
	if c.AbsorptionTime != nil {
		t.AbsorptionTime = ptr(c.AbsorptionTime.Minutes())
	}
	if c.UserCreatedAt != nil {
		t.UserEnteredAt = formatTime(*c.UserCreatedAt)
	}
	if c.UserUpdatedAt != nil {
		t.UserLastModifiedAt = formatTime(*c.UserUpdatedAt)
	}
	return t
}
