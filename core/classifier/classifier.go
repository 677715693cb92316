// Package classifier guesses which known vehicle produced a power curve by
// comparing its fingerprint with per-vehicle profiles.
package classifier

import (
	"maps"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/homecharge/core/features"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/profile"
)

// Predict scores every candidate profile against the fingerprint of samples.
//
// Candidates are all profiles, or only those whose id is in eligible when
// eligible is non-nil. The distance is |mean - profile mean| divided by the
// profile std when that std is positive. Confidence is the margin
// (worst-best)/worst, so a single candidate always scores 0.
func Predict(samples []float64, profiles model.ProfileMap, eligible map[string]struct{}) model.Prediction {
	fp, ok := features.Extract(samples)
	if !ok {
		return model.Prediction{}
	}
	pred := Score(fp, profiles, eligible)
	pred.Fingerprint = &fp
	return pred
}

// Score is Predict for an already extracted fingerprint.
func Score(fp model.Fingerprint, profiles model.ProfileMap, eligible map[string]struct{}) model.Prediction {
	ids := candidates(profiles, eligible)
	if len(ids) == 0 {
		return model.Prediction{}
	}

	dist := make([]float64, len(ids))
	byID := make(map[string]float64, len(ids))
	for i, id := range ids {
		dist[i] = Distance(fp, profiles[id])
		byID[id] = dist[i]
	}

	// ids are sorted, so ties go to the smallest id.
	bestIdx := floats.MinIdx(dist)
	best := dist[bestIdx]
	worst := floats.Max(dist)

	confidence := 0.0
	if worst > 0 {
		confidence = (worst - best) / worst
	}
	return model.Prediction{
		VehicleID:  ids[bestIdx],
		Confidence: confidence,
		Distances:  byID,
	}
}

// Distance is the standardized gap between the fingerprint mean power and
// the profile's, or the raw gap when the profile has no spread.
func Distance(fp model.Fingerprint, p model.VehicleProfile) float64 {
	gap := fp.MeanPowerKW - p.MeanPower.Mean
	if gap < 0 {
		gap = -gap
	}
	if p.MeanPower.Std > 0 {
		return gap / p.MeanPower.Std
	}
	return gap
}

func candidates(profiles model.ProfileMap, eligible map[string]struct{}) []string {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		if eligible != nil {
			if _, ok := eligible[id]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Classifier holds a read-only snapshot of the profile store.
type Classifier struct {
	profiles model.ProfileMap
}

// New returns a classifier over a copy of profiles.
func New(profiles model.ProfileMap) *Classifier {
	return &Classifier{profiles: maps.Clone(profiles)}
}

// Load builds a classifier from the profile document at path.
func Load(path string) (*Classifier, error) {
	p, err := profile.Load(path)
	if err != nil {
		return nil, err
	}
	return New(p), nil
}

// Predict classifies samples against the snapshot.
func (c *Classifier) Predict(samples []float64, eligible map[string]struct{}) model.Prediction {
	return Predict(samples, c.profiles, eligible)
}

// Vehicles lists the profiled vehicle ids in order.
func (c *Classifier) Vehicles() []string {
	return slices.Sorted(maps.Keys(c.profiles))
}

// Profiles returns a copy of the snapshot.
func (c *Classifier) Profiles() model.ProfileMap {
	return maps.Clone(c.profiles)
}

// Eligible converts a set of vehicle ids into the form Predict expects.
func Eligible[V any](vehicles map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(vehicles))
	for id := range vehicles {
		out[id] = struct{}{}
	}
	return out
}
