package model

import (
	"fmt"
	"time"
)

// LabelSource records who assigned a session label.
type LabelSource string

const (
	SourceManual     LabelSource = "manual"
	SourceClassifier LabelSource = "classifier"
	SourceBatch      LabelSource = "batch"
)

// Valid reports whether s is a known source.
func (s LabelSource) Valid() bool {
	switch s {
	case SourceManual, SourceClassifier, SourceBatch:
		return true
	}
	return false
}

// ParseLabelSource validates a source name.
func ParseLabelSource(s string) (LabelSource, error) {
	src := LabelSource(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown label source %q", s)
	}
	return src, nil
}

// UnknownVehicle is the vehicle name written for sessions the batch driver
// could not attribute.
const UnknownVehicle = "Unknown"

// ReservedVehicleID reports whether id cannot name a vehicle: it is the
// unknown marker or a key of the saved label statistics.
func ReservedVehicleID(id string) bool {
	switch id {
	case UnknownVehicle, "unknown", "total_sessions", "labeled_sessions":
		return true
	}
	return false
}

// SessionLabel assigns a session to a vehicle.
type SessionLabel struct {
	Vehicle    string      `json:"vehicle"`
	Confidence *float64    `json:"confidence"`
	Source     LabelSource `json:"source"`
	LabeledAt  time.Time   `json:"labeled_at"`
}

// PowerSample is one reading captured while a session was charging. Failed
// readings carry Error and no power.
type PowerSample struct {
	SampleNumber    int       `json:"sample_number,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitzero"`
	SessionID       string    `json:"session_id,omitempty"`
	PowerKW         *float64  `json:"power_kw"`
	EnergyKWh       *float64  `json:"energy_kwh,omitempty"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"`
	Status          string    `json:"status,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// SampleStats are the descriptive statistics stored alongside a record.
type SampleStats struct {
	AvgPowerKW float64 `json:"avg_power_kw"`
	MaxPowerKW float64 `json:"max_power_kw"`
	MinPowerKW float64 `json:"min_power_kw"`
	Variance   float64 `json:"variance"`
}

// SessionRecord is one historical session file of the training corpus.
type SessionRecord struct {
	SessionID         string        `json:"session_id"`
	CollectionStart   time.Time     `json:"collection_start,omitzero"`
	CollectionEnd     time.Time     `json:"collection_end,omitzero"`
	DurationSeconds   float64       `json:"duration_seconds,omitempty"`
	SampleCount       int           `json:"sample_count,omitempty"`
	ValidSampleCount  int           `json:"valid_sample_count,omitempty"`
	IntervalSeconds   int           `json:"interval_seconds,omitempty"`
	Samples           []PowerSample `json:"samples"`
	Statistics        *SampleStats  `json:"statistics,omitempty"`
	VehicleID         string        `json:"vehicle_id,omitempty"`
	VehicleConfidence *float64      `json:"vehicle_confidence,omitempty"`
	LabeledBy         string        `json:"labeled_by,omitempty"`
	LabeledAt         *time.Time    `json:"labeled_at,omitempty"`
	DataSource        string        `json:"data_source,omitempty"`
}

// DataSourceHistory marks records rebuilt from the vendor's session history
// rather than sampled live.
const DataSourceHistory = "vendor_history"

// PowerValues returns the non-null power readings of the record in order.
func (r SessionRecord) PowerValues() []float64 {
	out := make([]float64, 0, len(r.Samples))
	for _, s := range r.Samples {
		if s.PowerKW != nil {
			out = append(out, *s.PowerKW)
		}
	}
	return out
}
