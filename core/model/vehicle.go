package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used by valid periods.
const DateLayout = "2006-01-02"

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	p, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// ValidPeriod is an inclusive date interval during which a vehicle could
// have produced a session. A nil End leaves the interval open.
type ValidPeriod struct {
	Start Date  `json:"start"`
	End   *Date `json:"end,omitempty"`
}

// UnmarshalJSON reads a missing, null or empty end as an open interval.
func (p *ValidPeriod) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start Date            `json:"start"`
		End   json.RawMessage `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := ValidPeriod{Start: raw.Start}
	if len(raw.End) > 0 && string(raw.End) != "null" {
		var end string
		if err := json.Unmarshal(raw.End, &end); err != nil {
			return fmt.Errorf("end: %w", err)
		}
		if strings.TrimSpace(end) != "" {
			d, err := ParseDate(end)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}
			out.End = &d
		}
	}
	*p = out
	return nil
}

// Contains reports whether the calendar day of t falls inside the period.
func (p ValidPeriod) Contains(t time.Time) bool {
	day := DateOf(t)
	if day.Before(p.Start.Time) {
		return false
	}
	return p.End == nil || !day.After(p.End.Time)
}

// Vehicle is a registry entry describing a known car.
type Vehicle struct {
	Nickname string `json:"nickname"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`

	Trim               string   `json:"trim,omitempty"`
	BatteryCapacityKWh *float64 `json:"battery_capacity_kwh,omitempty"`
	MaxChargeRateKW    *float64 `json:"max_charge_rate_kw,omitempty"`
	PaintColor         string   `json:"paint_color,omitempty"`
	PaintColorHex      string   `json:"paint_color_hex,omitempty"`
	DisplayColor       string   `json:"display_color,omitempty"`
	EfficiencyMiPerKWh *float64 `json:"efficiency_mi_per_kwh,omitempty"`
	Characteristics    string   `json:"characteristics,omitempty"`

	ValidPeriods []ValidPeriod `json:"valid_periods,omitempty"`
}

// Validate checks the mandatory descriptive fields and period ordering.
func (v Vehicle) Validate() error {
	switch {
	case strings.TrimSpace(v.Nickname) == "":
		return fmt.Errorf("nickname is required")
	case strings.TrimSpace(v.Make) == "":
		return fmt.Errorf("make is required")
	case strings.TrimSpace(v.Model) == "":
		return fmt.Errorf("model is required")
	case v.Year <= 0:
		return fmt.Errorf("year must be positive")
	}
	for i, p := range v.ValidPeriods {
		if p.Start.IsZero() {
			return fmt.Errorf("valid_periods[%d]: start is required", i)
		}
		if p.End != nil && p.End.Before(p.Start.Time) {
			return fmt.Errorf("valid_periods[%d]: end %s before start %s", i, p.End, p.Start)
		}
	}
	return nil
}

// ValidOn reports whether any valid period contains t.
func (v Vehicle) ValidOn(t time.Time) bool {
	for _, p := range v.ValidPeriods {
		if p.Contains(t) {
			return true
		}
	}
	return false
}
