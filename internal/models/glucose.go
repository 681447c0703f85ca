package models

import (
	"fmt"
	"time"
)

// GlucoseSample is a stored glucose reading in mg/dL.
type GlucoseSample struct {
	SyncID      string    `json:"sync_identifier,omitempty"`
	Date        time.Time `json:"date"`
	MgdL        float64   `json:"mgdl"`
	Trend       *int      `json:"trend,omitempty"`      // 1 (double up) .. 7 (double down)
	TrendRate   *float64  `json:"trend_rate,omitempty"` // mg/dL/min
	Device      *Device   `json:"device,omitempty"`
	UserEntered bool      `json:"user_entered,omitempty"`
	DisplayOnly bool      `json:"display_only,omitempty"`
}

// Device identifies the hardware a sample came from.
type Device struct {
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	SoftwareVersion string `json:"software_version"`
}

func (g GlucoseSample) SyncIdentifier() string { return g.SyncID }

var trendDirections = map[int]string{
	1: "DoubleUp",
	2: "SingleUp",
	3: "FortyFiveUp",
	4: "Flat",
	5: "FortyFiveDown",
	6: "SingleDown",
	7: "DoubleDown",
}

// Entry converts the sample to an entries document. source is used as the
// device name when the sample does not identify its device.
func (g GlucoseSample) Entry(source string) Entry {
	device := source
	if d := g.Device; d != nil && d.Manufacturer != "" && d.Model != "" && d.SoftwareVersion != "" {
		device = fmt.Sprintf("loop://%s/%s/%s", d.Manufacturer, d.Model, d.SoftwareVersion)
	}

	e := Entry{
		Type:       "sgv",
		Date:       g.Date.UnixMilli(),
		DateString: formatTime(g.Date),
		Device:     device,
		Trend:      g.Trend,
		TrendRate:  g.TrendRate,
		IsCalib:    g.DisplayOnly,
	}
	if g.UserEntered {
		e.Type = "mbg"
		e.MBG = ptr(g.MgdL)
	} else {
		e.SGV = ptr(g.MgdL)
	}
	if g.Trend != nil {
		e.Direction = trendDirections[*g.Trend]
	}
	return e
}
