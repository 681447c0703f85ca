package models

import (
	"math"
	"time"
)

// Dosing decision reasons.
const (
	ReasonLoop                       = "loop"
	ReasonUpdateRemoteRecommendation = "updateRemoteRecommendation"
	ReasonNormalBolus                = "normalBolus"
	ReasonSimpleBolus                = "simpleBolus"
	ReasonWatchBolus                 = "watchBolus"
)

// reservoirFreshness bounds how old a reservoir reading may be to be reported.
const reservoirFreshness = 15 * time.Minute

// DosingDecision is a stored record of what the controller decided and why.
type DosingDecision struct {
	SyncID                      string                   `json:"sync_identifier,omitempty"`
	Date                        time.Time                `json:"date"`
	Reason                      string                   `json:"reason"`
	InsulinOnBoard              *TimedValue              `json:"insulin_on_board,omitempty"`
	CarbsOnBoard                *TimedValue              `json:"carbs_on_board,omitempty"`
	AutomaticDoseRecommendation *AutomaticRecommendation `json:"automatic_dose_recommendation,omitempty"`
	ManualBolusRecommendation   *float64                 `json:"manual_bolus_recommendation,omitempty"`
	Errors                      []string                 `json:"errors,omitempty"`
	Pump                        *PumpState               `json:"pump,omitempty"`
	LastReservoir               *TimedValue              `json:"last_reservoir,omitempty"`
	OverrideName                string                   `json:"override_name,omitempty"`
}

type TimedValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

type AutomaticRecommendation struct {
	BasalRate     *float64       `json:"basal_rate,omitempty"` // U/h
	BasalDuration *time.Duration `json:"basal_duration,omitempty"`
	BolusUnits    *float64       `json:"bolus_units,omitempty"`
}

type PumpState struct {
	ID               string   `json:"id"`
	BatteryRemaining *float64 `json:"battery_remaining,omitempty"` // 0..1
	Suspended        *bool    `json:"suspended,omitempty"`
	Bolusing         bool     `json:"bolusing,omitempty"`
}

func (d DosingDecision) SyncIdentifier() string { return d.SyncID }

// IsAutomatic reports whether the decision was made by the closed loop.
func (d DosingDecision) IsAutomatic() bool { return d.Reason == ReasonLoop }

// IsBolus reports whether the decision came from a user-initiated bolus.
func (d DosingDecision) IsBolus() bool {
	switch d.Reason {
	case ReasonUpdateRemoteRecommendation, ReasonNormalBolus, ReasonSimpleBolus, ReasonWatchBolus:
		return true
	}
	return false
}

// DeviceStatus builds the devicestatus document for a bolus decision. The
// loop section (IOB, COB, automatic dosing) comes from automatic, the most
// recent automatic decision before it, when there is one.
func (d DosingDecision) DeviceStatus(source string, automatic *DosingDecision) DeviceStatus {
	loopSource := d
	if automatic != nil {
		loopSource = *automatic
	}

	loop := &LoopStatus{
		Name:             "Loop",
		Timestamp:        formatTime(loopSource.Date),
		RecommendedBolus: d.ManualBolusRecommendation,
	}
	if v := loopSource.InsulinOnBoard; v != nil {
		loop.IOB = &IOBStatus{Timestamp: formatTime(v.Date), IOB: v.Value}
	}
	if v := loopSource.CarbsOnBoard; v != nil {
		loop.COB = &COBStatus{Timestamp: formatTime(v.Date), COB: v.Value}
	}
	if r := loopSource.AutomaticDoseRecommendation; r != nil {
		rec := &AutomaticDoseRecommendation{Timestamp: formatTime(loopSource.Date)}
		if r.BolusUnits != nil {
			rec.BolusVolume = *r.BolusUnits
		}
		if r.BasalRate != nil && r.BasalDuration != nil {
			rec.TempBasalAdjustment = &TempBasalValue{Rate: *r.BasalRate, Duration: r.BasalDuration.Minutes()}
		}
		loop.AutomaticDoseRecommendation = rec

		if len(loopSource.Errors) == 0 {
			enacted := &LoopEnacted{Timestamp: formatTime(loopSource.Date), Received: true, BolusVolume: rec.BolusVolume}
			if adj := rec.TempBasalAdjustment; adj != nil {
				enacted.Rate = adj.Rate
				enacted.Duration = adj.Duration
			}
			loop.Enacted = enacted
		}
	}
	if len(loopSource.Errors) > 0 {
		loop.FailureReason = loopSource.Errors[0]
	}

	status := DeviceStatus{
		Device:    source,
		CreatedAt: formatTime(d.Date),
		Loop:      loop,
		Override:  &Override{Timestamp: formatTime(d.Date), Active: d.OverrideName != "", Name: d.OverrideName},
	}

	if p := d.Pump; p != nil {
		pump := &PumpStatus{
			Clock:     formatTime(d.Date),
			PumpID:    p.ID,
			Suspended: p.Suspended,
			Bolusing:  p.Bolusing,
		}
		if pump.PumpID == "" {
			pump.PumpID = "Unknown"
		}
		if p.BatteryRemaining != nil {
			pump.Battery = ptr(int(math.Round(*p.BatteryRemaining * 100)))
		}
		if r := d.LastReservoir; r != nil && d.Date.Sub(r.Date) < reservoirFreshness {
			pump.Reservoir = ptr(r.Value)
		}
		status.Pump = pump
	}
	return status
}
