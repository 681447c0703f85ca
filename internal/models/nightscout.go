package models

import "time"

// TimeFormat is the timestamp layout Nightscout stores.
const TimeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Treatment event types.
const (
	EventCarbCorrection    = "Carb Correction"
	EventCorrectionBolus   = "Correction Bolus"
	EventTempBasal         = "Temp Basal"
	EventSuspendPump       = "Suspend Pump"
	EventResumePump        = "Resume Pump"
	EventTemporaryOverride = "Temporary Override"
)

// Treatment is a document of the treatments collection. Only the fields of
// the given event type are set.
type Treatment struct {
	ID             string `json:"_id,omitempty"`
	EventType      string `json:"eventType"`
	CreatedAt      string `json:"created_at"`
	Timestamp      string `json:"timestamp"`
	EnteredBy      string `json:"enteredBy"`
	SyncIdentifier string `json:"syncIdentifier,omitempty"`

	// Carb Correction
	Carbs              *int     `json:"carbs,omitempty"`
	AbsorptionTime     *float64 `json:"absorptionTime,omitempty"` // minutes
	FoodType           string   `json:"foodType,omitempty"`
	UserEnteredAt      string   `json:"userEnteredAt,omitempty"`
	UserLastModifiedAt string   `json:"userLastModifiedAt,omitempty"`

	// Correction Bolus, Temp Basal
	Type        string   `json:"type,omitempty"`
	Insulin     *float64 `json:"insulin,omitempty"`
	Programmed  *float64 `json:"programmed,omitempty"`
	Unabsorbed  *float64 `json:"unabsorbed,omitempty"`
	Temp        string   `json:"temp,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
	Absolute    *float64 `json:"absolute,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Automatic   *bool    `json:"automatic,omitempty"`
	InsulinType string   `json:"insulinType,omitempty"`

	// Duration in minutes. Temp Basal, Correction Bolus, Temporary Override.
	Duration     *float64 `json:"duration,omitempty"`
	DurationType string   `json:"durationType,omitempty"`

	// Temporary Override
	Reason                  string    `json:"reason,omitempty"`
	CorrectionRange         []float64 `json:"correctionRange,omitempty"`
	InsulinNeedsScaleFactor *float64  `json:"insulinNeedsScaleFactor,omitempty"`
	RemoteAddress           string    `json:"remoteAddress,omitempty"`
}

// Entry is a document of the entries collection.
type Entry struct {
	Type       string   `json:"type"` // sgv or mbg
	SGV        *float64 `json:"sgv,omitempty"`
	MBG        *float64 `json:"mbg,omitempty"`
	Date       int64    `json:"date"` // unix millis
	DateString string   `json:"dateString"`
	Device     string   `json:"device"`
	Direction  string   `json:"direction,omitempty"`
	Trend      *int     `json:"trend,omitempty"`
	TrendRate  *float64 `json:"trendRate,omitempty"`
	IsCalib    bool     `json:"isCalibration,omitempty"`
}

// DeviceStatus is a document of the devicestatus collection.
type DeviceStatus struct {
	Device    string      `json:"device"`
	CreatedAt string      `json:"created_at"`
	Loop      *LoopStatus `json:"loop,omitempty"`
	Pump      *PumpStatus `json:"pump,omitempty"`
	Override  *Override   `json:"override,omitempty"`
}

type LoopStatus struct {
	Name                        string                       `json:"name"`
	Timestamp                   string                       `json:"timestamp"`
	IOB                         *IOBStatus                   `json:"iob,omitempty"`
	COB                         *COBStatus                   `json:"cob,omitempty"`
	RecommendedBolus            *float64                     `json:"recommendedBolus,omitempty"`
	AutomaticDoseRecommendation *AutomaticDoseRecommendation `json:"automaticDoseRecommendation,omitempty"`
	Enacted                     *LoopEnacted                 `json:"enacted,omitempty"`
	FailureReason               string                       `json:"failureReason,omitempty"`
}

type IOBStatus struct {
	Timestamp string  `json:"timestamp"`
	IOB       float64 `json:"iob"`
}

type COBStatus struct {
	Timestamp string  `json:"timestamp"`
	COB       float64 `json:"cob"`
}

type AutomaticDoseRecommendation struct {
	Timestamp           string          `json:"timestamp"`
	TempBasalAdjustment *TempBasalValue `json:"tempBasalAdjustment,omitempty"`
	BolusVolume         float64         `json:"bolusVolume"`
}

type TempBasalValue struct {
	Rate     float64 `json:"rate"`
	Duration float64 `json:"duration"` // minutes
}

type LoopEnacted struct {
	Rate        float64 `json:"rate"`
	Duration    float64 `json:"duration"` // minutes
	Timestamp   string  `json:"timestamp"`
	Received    bool    `json:"received"`
	BolusVolume float64 `json:"bolusVolume"`
}

type PumpStatus struct {
	Clock     string   `json:"clock"`
	PumpID    string   `json:"pumpID"`
	Reservoir *float64 `json:"reservoir,omitempty"`
	Battery   *int     `json:"battery,omitempty"` // percent
	Suspended *bool    `json:"suspended,omitempty"`
	Bolusing  bool     `json:"bolusing"`
}

type Override struct {
	Timestamp string `json:"timestamp"`
	Active    bool   `json:"active"`
	Name      string `json:"name,omitempty"`
}

func ptr[T any](v T) *T { return &v }
