// Package registry keeps the set of known vehicles and the date ranges
// during which each one could have charged at home.
package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/internal/jsondoc"
)

// updatable lists the fields Update may touch. Identity and valid periods
// are managed through Add and Delete.
var updatable = map[string]bool{
	"nickname":              true,
	"make":                  true,
	"model":                 true,
	"year":                  true,
	"trim":                  true,
	"battery_capacity_kwh":  true,
	"max_charge_rate_kw":    true,
	"paint_color":           true,
	"paint_color_hex":       true,
	"display_color":         true,
	"efficiency_mi_per_kwh": true,
	"characteristics":       true,
}

// UpdatableFields returns the sorted allow-list of Update.
func UpdatableFields() []string {
	return slices.Sorted(maps.Keys(updatable))
}

type document struct {
	Vehicles    map[string]model.Vehicle `json:"vehicles"`
	LastUpdated *time.Time               `json:"last_updated"`
}

// Registry is the file-backed vehicle registry.
type Registry struct {
	path string
	now  func() time.Time

	mu       sync.RWMutex
	vehicles map[string]model.Vehicle
}

// Open loads the registry at path. A missing document yields an empty
// registry.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:     path,
		now:      func() time.Time { return time.Now().UTC() },
		vehicles: map[string]model.Vehicle{},
	}
	var d document
	found, err := jsondoc.Load(path, &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return r, nil
	}
	for id, v := range d.Vehicles {
		if id == "" {
			return nil, errs.Errorf(errs.KindCorrupt, "registry.open", "%s: empty vehicle id", path)
		}
		if err := v.Validate(); err != nil {
			return nil, errs.E(errs.KindCorrupt, "registry.open", fmt.Errorf("%s: vehicle %s: %w", path, id, err))
		}
		r.vehicles[id] = v
	}
	return r, nil
}

// New returns an in-memory registry holding vehicles. Save writes to path.
func New(path string, vehicles map[string]model.Vehicle) *Registry {
	r := &Registry{
		path:     path,
		now:      func() time.Time { return time.Now().UTC() },
		vehicles: make(map[string]model.Vehicle, len(vehicles)),
	}
	maps.Copy(r.vehicles, vehicles)
	return r
}

// Path returns the backing document location.
func (r *Registry) Path() string { return r.path }

// Get returns the vehicle registered under id.
func (r *Registry) Get(id string) (model.Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	return v, ok
}

// All returns a copy of every registered vehicle.
func (r *Registry) All() map[string]model.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.vehicles)
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.vehicles))
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// DisplayName is "<nickname> (<year> <make> <model>)", or the id itself
// for unregistered vehicles.
func (r *Registry) DisplayName(id string) string {
	v, ok := r.Get(id)
	if !ok {
		return id
	}
	return fmt.Sprintf("%s (%d %s %s)", v.Nickname, v.Year, v.Make, v.Model)
}

// Add registers a new vehicle.
func (r *Registry) Add(id string, v model.Vehicle) error {
	if id == "" {
		return errs.Errorf(errs.KindValidation, "registry.add", "vehicle id is required")
	}
	if model.ReservedVehicleID(id) {
		return errs.Errorf(errs.KindValidation, "registry.add", "vehicle id %q is reserved", id)
	}
	if err := v.Validate(); err != nil {
		return errs.E(errs.KindValidation, "registry.add", fmt.Errorf("%s: %w", id, err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[id]; ok {
		return errs.Errorf(errs.KindValidation, "registry.add", "vehicle %s already exists", id)
	}
	r.vehicles[id] = v
	return nil
}

// Update applies fields to an existing vehicle. Every key must be in the
// allow-list and the result must validate, otherwise nothing changes.
func (r *Registry) Update(id string, fields map[string]any) error {
	const op = "registry.update"
	var rejected []string
	for k := range fields {
		if !updatable[k] {
			rejected = append(rejected, k)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return errs.Errorf(errs.KindValidation, op, "fields not updatable: %v", rejected)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.vehicles[id]
	if !ok {
		return errs.Errorf(errs.KindValidation, op, "vehicle %s not found", id)
	}
	next, err := merge(cur, fields)
	if err != nil {
		return errs.E(errs.KindValidation, op, fmt.Errorf("%s: %w", id, err))
	}
	if err := next.Validate(); err != nil {
		return errs.E(errs.KindValidation, op, fmt.Errorf("%s: %w", id, err))
	}
	r.vehicles[id] = next
	return nil
}

// merge overlays fields on v through the vehicle's JSON form, so field
// names and value types follow the document schema.
func merge(v model.Vehicle, fields map[string]any) (model.Vehicle, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return v, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return v, err
	}
	maps.Copy(m, fields)
	if b, err = json.Marshal(m); err != nil {
		return v, err
	}
	var out model.Vehicle
	if err := json.Unmarshal(b, &out); err != nil {
		return v, err
	}
	return out, nil
}

// Delete removes a vehicle.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[id]; !ok {
		return errs.Errorf(errs.KindValidation, "registry.delete", "vehicle %s not found", id)
	}
	delete(r.vehicles, id)
	return nil
}

// ValidateProfileIDs returns the profile ids with no registry entry, sorted.
func (r *Registry) ValidateProfileIDs(profiles model.ProfileMap) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for id := range profiles {
		if _, ok := r.vehicles[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// EligibleOn returns the vehicles valid on the calendar day of asOf.
func (r *Registry) EligibleOn(asOf time.Time) map[string]model.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return FilterByDate(r.vehicles, asOf)
}

// Save atomically replaces the backing document.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	return jsondoc.Save(r.path, document{Vehicles: r.vehicles, LastUpdated: &now})
}

// FilterByDate keeps the vehicles that have a valid period containing the
// calendar day of asOf. Vehicles without periods are never eligible.
func FilterByDate(vehicles map[string]model.Vehicle, asOf time.Time) map[string]model.Vehicle {
	out := make(map[string]model.Vehicle, len(vehicles))
	for id, v := range vehicles {
		if v.ValidOn(asOf) {
			out[id] = v
		}
	}
	return out
}
