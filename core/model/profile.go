package model

import (
	"fmt"
	"math"
)

// ActiveThresholdKW is the floor above which a reading counts as steady
// charging draw.
const ActiveThresholdKW = 0.5

// Fingerprint summarises a power-sample sequence.
type Fingerprint struct {
	MeanPowerKW float64 `json:"mean_power_kw"`
	StdPowerKW  float64 `json:"std_power_kw"`
	P25PowerKW  float64 `json:"p25_power_kw"`
	P75PowerKW  float64 `json:"p75_power_kw"`
	IQRPowerKW  float64 `json:"iqr_power_kw"`
	CVStability float64 `json:"cv_stability"`
	SampleCount int     `json:"sample_count"`
}

// Stat is a mean/standard-deviation pair.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func (s Stat) validate() error {
	if math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) {
		return fmt.Errorf("mean is not finite")
	}
	if math.IsNaN(s.Std) || math.IsInf(s.Std, 0) || s.Std < 0 {
		return fmt.Errorf("std must be finite and non-negative")
	}
	return nil
}

// VehicleProfile aggregates fingerprints of one vehicle's labeled sessions.
type VehicleProfile struct {
	Count       int  `json:"count"`
	MeanPower   Stat `json:"mean_power"`
	P25Power    Stat `json:"p25_power"`
	CVStability Stat `json:"cv_stability"`
}

// Validate rejects profiles that could not have come from a training run.
func (p VehicleProfile) Validate() error {
	if p.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	if err := p.MeanPower.validate(); err != nil {
		return fmt.Errorf("mean_power: %w", err)
	}
	if err := p.P25Power.validate(); err != nil {
		return fmt.Errorf("p25_power: %w", err)
	}
	if err := p.CVStability.validate(); err != nil {
		return fmt.Errorf("cv_stability: %w", err)
	}
	return nil
}

// ProfileMap maps vehicle ids to their profile.
type ProfileMap map[string]VehicleProfile

// Prediction is the classifier's answer for one sample sequence. An empty
// VehicleID means no prediction could be made.
type Prediction struct {
	VehicleID   string             `json:"vehicle_id,omitempty"`
	Confidence  float64            `json:"confidence"`
	Fingerprint *Fingerprint       `json:"fingerprint,omitempty"`
	Distances   map[string]float64 `json:"distances,omitempty"`
}

// Found reports whether a vehicle was predicted.
func (p Prediction) Found() bool { return p.VehicleID != "" }
