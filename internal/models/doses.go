package models

import "time"

type DoseType string

const (
	DoseBasal     DoseType = "basal"
	DoseBolus     DoseType = "bolus"
	DoseResume    DoseType = "resume"
	DoseSuspend   DoseType = "suspend"
	DoseTempBasal DoseType = "temp_basal"
)

// squareBolusThreshold is the delivery duration from which a bolus is
// reported as a square wave.
const squareBolusThreshold = 30 * time.Minute

// DoseEntry is an insulin delivery event.
type DoseEntry struct {
	SyncID          string    `json:"sync_identifier"`
	Type            DoseType  `json:"type"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	ProgrammedUnits float64   `json:"programmed_units"`
	DeliveredUnits  *float64  `json:"delivered_units,omitempty"`
	Automatic       *bool     `json:"automatic,omitempty"`
	InsulinType     string    `json:"insulin_type,omitempty"`
	// Mutable doses may still change on the pump; they are never deleted
	// remotely.
	Mutable bool `json:"mutable,omitempty"`
}

func (d DoseEntry) SyncIdentifier() string { return d.SyncID }

func (d DoseEntry) IsMutable() bool { return d.Mutable }

// UnitsPerHour is the average delivery rate over the dose's duration.
func (d DoseEntry) UnitsPerHour() float64 {
	hours := d.EndDate.Sub(d.StartDate).Hours()
	if hours <= 0 {
		return 0
	}
	return d.ProgrammedUnits / hours
}

// Treatment converts the dose. Scheduled basal has no treatment and reports
// ok=false.
//
// Doses are always posted, never put, so the treatment carries no _id even
// when one is cached; Nightscout matches reposted doses by syncIdentifier.
func (d DoseEntry) Treatment(source string) (Treatment, bool) {
	t := Treatment{
		CreatedAt:      formatTime(d.StartDate),
		Timestamp:      formatTime(d.StartDate),
		EnteredBy:      source,
		SyncIdentifier: d.SyncID,
		InsulinType:    d.InsulinType,
	}
	duration := d.EndDate.Sub(d.StartDate)

	switch d.Type {
	case DoseBolus:
		t.EventType = EventCorrectionBolus
		t.Type = "normal"
		if duration >= squareBolusThreshold {
			t.Type = "square"
		}
		amount := d.ProgrammedUnits
		if d.DeliveredUnits != nil {
			amount = *d.DeliveredUnits
		}
		t.Insulin = ptr(amount)
		t.Programmed = ptr(d.ProgrammedUnits)
		t.Unabsorbed = ptr(0.0)
		t.Duration = ptr(duration.Minutes())
		t.Automatic = ptr(d.Automatic != nil && *d.Automatic)
	case DoseTempBasal:
		rate := d.UnitsPerHour()
		t.EventType = EventTempBasal
		t.Temp = "absolute"
		t.Rate = ptr(rate)
		t.Absolute = ptr(rate)
		t.Duration = ptr(duration.Minutes())
		t.Amount = d.DeliveredUnits
		t.Automatic = ptr(d.Automatic == nil || *d.Automatic)
	case DoseSuspend:
		t.EventType = EventSuspendPump
		t.InsulinType = ""
	case DoseResume:
		t.EventType = EventResumePump
		t.InsulinType = ""
	default:
		return Treatment{}, false
	}
	return t, true
}
