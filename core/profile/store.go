// Package profile persists the per-vehicle statistics produced by training.
package profile

import (
	"fmt"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/internal/jsondoc"
)

// Load reads the profile document at path. A missing document yields an
// empty map so classification can start before the first training run.
func Load(path string) (model.ProfileMap, error) {
	profiles := model.ProfileMap{}
	if _, err := jsondoc.Load(path, &profiles); err != nil {
		return nil, err
	}
	if profiles == nil {
		// a literal `null` document
		profiles = model.ProfileMap{}
	}
	for id, p := range profiles {
		if id == "" {
			return nil, errs.Errorf(errs.KindCorrupt, "profile.load", "%s: empty vehicle id", path)
		}
		if err := p.Validate(); err != nil {
			return nil, errs.E(errs.KindCorrupt, "profile.load", fmt.Errorf("%s: vehicle %s: %w", path, id, err))
		}
	}
	return profiles, nil
}

// Save atomically replaces the profile document at path.
func Save(path string, profiles model.ProfileMap) error {
	if profiles == nil {
		profiles = model.ProfileMap{}
	}
	return jsondoc.Save(path, profiles)
}
