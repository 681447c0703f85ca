// Package timex holds time helpers that the standard library lacks.
package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("30s", "24h") or an integer number of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// FloorTo returns the start of the step-sized bucket containing t, measured
// from the Unix epoch. step must be positive.
func FloorTo(t time.Time, step time.Duration) time.Time {
	ns := t.UnixNano()
	rem := ns % int64(step)
	if rem < 0 {
		rem += int64(step)
	}
	return time.Unix(0, ns-rem).In(t.Location())
}
