package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrIncompatibleTherapySettings is returned when a remote profile lacks
// what is needed to rebuild therapy settings from it.
var ErrIncompatibleTherapySettings = errors.New("profile is not compatible with therapy settings")

const (
	UnitMgdL  = "mg/dL"
	UnitMmolL = "mmol/L"

	defaultProfileName = "Default"
	profileEnteredBy   = "Loop"
	insulinActionHours = 6
)

// ScheduleValue is a daily repeating value starting at Offset after midnight.
type ScheduleValue struct {
	Offset time.Duration `json:"offset"`
	Value  float64       `json:"value"`
}

// RangeValue is a daily repeating glucose range.
type RangeValue struct {
	Offset time.Duration `json:"offset"`
	Min    float64       `json:"min"`
	Max    float64       `json:"max"`
}

type GlucoseRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StoredSettings is a snapshot of the therapy settings at a point in time.
type StoredSettings struct {
	SyncID              string          `json:"sync_identifier"`
	Date                time.Time       `json:"date"`
	GlucoseUnit         string          `json:"glucose_unit,omitempty"`
	TimeZone            string          `json:"time_zone,omitempty"`
	DosingEnabled       bool            `json:"dosing_enabled"`
	DosingStrategy      string          `json:"dosing_strategy,omitempty"`
	BasalSchedule       []ScheduleValue `json:"basal_schedule,omitempty"`
	CarbRatioSchedule   []ScheduleValue `json:"carb_ratio_schedule,omitempty"`
	SensitivitySchedule []ScheduleValue `json:"sensitivity_schedule,omitempty"`
	TargetSchedule      []RangeValue    `json:"target_schedule,omitempty"`
	SuspendThreshold    *float64        `json:"suspend_threshold,omitempty"`
	PreMealTarget       *GlucoseRange   `json:"pre_meal_target,omitempty"`
	MaxBasalRate        *float64        `json:"max_basal_rate,omitempty"`
	MaxBolus            *float64        `json:"max_bolus,omitempty"`
	DeviceToken         string          `json:"device_token,omitempty"`
}

func (s StoredSettings) SyncIdentifier() string { return s.SyncID }

// ProfileSet is a document of the profile collection.
type ProfileSet struct {
	ID             string             `json:"_id,omitempty"`
	StartDate      string             `json:"startDate"`
	Mills          int64              `json:"mills"`
	Units          string             `json:"units"`
	EnteredBy      string             `json:"enteredBy"`
	DefaultProfile string             `json:"defaultProfile"`
	Store          map[string]Profile `json:"store"`
	Settings       LoopSettings       `json:"loopSettings"`
	SyncIdentifier string             `json:"syncIdentifier,omitempty"`
}

type Profile struct {
	Timezone    string         `json:"timezone,omitempty"`
	DIA         float64        `json:"dia"`
	Sensitivity []ScheduleItem `json:"sens"`
	CarbRatio   []ScheduleItem `json:"carbratio"`
	Basal       []ScheduleItem `json:"basal"`
	TargetLow   []ScheduleItem `json:"target_low"`
	TargetHigh  []ScheduleItem `json:"target_high"`
	Units       string         `json:"units,omitempty"`
}

type ScheduleItem struct {
	Time          string  `json:"time"`
	TimeAsSeconds int     `json:"timeAsSeconds"`
	Value         float64 `json:"value"`
}

type LoopSettings struct {
	DosingEnabled           bool      `json:"dosingEnabled"`
	MinimumBGGuard          *float64  `json:"minimumBGGuard,omitempty"`
	PreMealTargetRange      []float64 `json:"preMealTargetRange,omitempty"`
	MaximumBasalRatePerHour *float64  `json:"maximumBasalRatePerHour,omitempty"`
	MaximumBolus            *float64  `json:"maximumBolus,omitempty"`
	DeviceToken             string    `json:"deviceToken,omitempty"`
	DosingStrategy          string    `json:"dosingStrategy,omitempty"`
}

// ProfileSet converts the snapshot. Snapshots missing the glucose unit or
// any schedule cannot be expressed as a profile and report ok=false.
func (s StoredSettings) ProfileSet() (ProfileSet, bool) {
	if s.GlucoseUnit == "" || len(s.BasalSchedule) == 0 || len(s.CarbRatioSchedule) == 0 ||
		len(s.SensitivitySchedule) == 0 || len(s.TargetSchedule) == 0 {
		return ProfileSet{}, false
	}

	low := make([]ScheduleItem, len(s.TargetSchedule))
	high := make([]ScheduleItem, len(s.TargetSchedule))
	for i, r := range s.TargetSchedule {
		low[i] = scheduleItem(r.Offset, r.Min)
		high[i] = scheduleItem(r.Offset, r.Max)
	}

	settings := LoopSettings{
		DosingEnabled:           s.DosingEnabled,
		MinimumBGGuard:          s.SuspendThreshold,
		MaximumBasalRatePerHour: s.MaxBasalRate,
		MaximumBolus:            s.MaxBolus,
		DeviceToken:             s.DeviceToken,
		DosingStrategy:          s.DosingStrategy,
	}
	if r := s.PreMealTarget; r != nil {
		settings.PreMealTargetRange = []float64{r.Min, r.Max}
	}

	return ProfileSet{
		StartDate:      formatTime(s.Date),
		Mills:          s.Date.UnixMilli(),
		Units:          s.GlucoseUnit,
		EnteredBy:      profileEnteredBy,
		DefaultProfile: defaultProfileName,
		Store: map[string]Profile{defaultProfileName: {
			Timezone:    s.TimeZone,
			DIA:         insulinActionHours,
			Sensitivity: scheduleItems(s.SensitivitySchedule),
			CarbRatio:   scheduleItems(s.CarbRatioSchedule),
			Basal:       scheduleItems(s.BasalSchedule),
			TargetLow:   low,
			TargetHigh:  high,
			Units:       s.GlucoseUnit,
		}},
		Settings:       settings,
		SyncIdentifier: s.SyncID,
	}, true
}

// TherapySettings is what a remote profile can restore.
type TherapySettings struct {
	GlucoseUnit         string
	TimeZone            string
	BasalSchedule       []ScheduleValue
	CarbRatioSchedule   []ScheduleValue
	SensitivitySchedule []ScheduleValue
	TargetSchedule      []RangeValue
	SuspendThreshold    float64
	PreMealTarget       *GlucoseRange
	MaxBasalRate        *float64
	MaxBolus            *float64
}

// TherapySettings rebuilds therapy settings from the default profile and
// returns them with the profile's start date.
func (p ProfileSet) TherapySettings() (TherapySettings, time.Time, error) {
	name := p.DefaultProfile
	if name == "" {
		name = defaultProfileName
	}
	profile, ok := p.Store[name]
	if !ok {
		return TherapySettings{}, time.Time{}, fmt.Errorf("%w: no %q profile", ErrIncompatibleTherapySettings, name)
	}
	if p.Settings.MinimumBGGuard == nil {
		return TherapySettings{}, time.Time{}, fmt.Errorf("%w: no suspend threshold", ErrIncompatibleTherapySettings)
	}
	if !validUnit(p.Units) {
		return TherapySettings{}, time.Time{}, fmt.Errorf("%w: unknown units %q", ErrIncompatibleTherapySettings, p.Units)
	}
	if len(profile.TargetLow) != len(profile.TargetHigh) {
		return TherapySettings{}, time.Time{}, fmt.Errorf("%w: target schedule bounds differ in length", ErrIncompatibleTherapySettings)
	}

	unit := p.Units
	if validUnit(profile.Units) {
		unit = profile.Units
	}

	targets := make([]RangeValue, len(profile.TargetLow))
	for i := range profile.TargetLow {
		targets[i] = RangeValue{
			Offset: offsetOf(profile.TargetLow[i]),
			Min:    profile.TargetLow[i].Value,
			Max:    profile.TargetHigh[i].Value,
		}
	}

	ts := TherapySettings{
		GlucoseUnit:         unit,
		TimeZone:            profile.Timezone,
		BasalSchedule:       scheduleValues(profile.Basal),
		CarbRatioSchedule:   scheduleValues(profile.CarbRatio),
		SensitivitySchedule: scheduleValues(profile.Sensitivity),
		TargetSchedule:      targets,
		SuspendThreshold:    *p.Settings.MinimumBGGuard,
		MaxBasalRate:        p.Settings.MaximumBasalRatePerHour,
		MaxBolus:            p.Settings.MaximumBolus,
	}
	if r := p.Settings.PreMealTargetRange; len(r) == 2 {
		ts.PreMealTarget = &GlucoseRange{Min: r[0], Max: r[1]}
	}

	start, err := time.Parse(time.RFC3339, p.StartDate)
	if err != nil {
		start = time.UnixMilli(p.Mills).UTC()
	}
	return ts, start, nil
}

func validUnit(u string) bool {
	return u == UnitMgdL || u == UnitMmolL
}

func scheduleItem(offset time.Duration, value float64) ScheduleItem {
	secs := int(offset / time.Second)
	return ScheduleItem{
		Time:          fmt.Sprintf("%02d:%02d", secs/3600, secs%3600/60),
		TimeAsSeconds: secs,
		Value:         value,
	}
}

func scheduleItems(values []ScheduleValue) []ScheduleItem {
	out := make([]ScheduleItem, len(values))
	for i, v := range values {
		out[i] = scheduleItem(v.Offset, v.Value)
	}
	return out
}

func offsetOf(item ScheduleItem) time.Duration {
	return time.Duration(item.TimeAsSeconds) * time.Second
}

func scheduleValues(items []ScheduleItem) []ScheduleValue {
	out := make([]ScheduleValue, len(items))
	for i, item := range items {
		out[i] = ScheduleValue{Offset: offsetOf(item), Value: item.Value}
	}
	return out
}
