// Package labels maps charging sessions to the vehicle that drew them.
//
// A session id is in exactly one of three states: labeled with a vehicle,
// listed as unknown, or not mentioned at all. Labeling removes the id from
// the unknown list; unlabeling drops the vehicle and lists the id as unknown.
package labels

import (
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

// Statistics is derived from the current state every time it is requested.
type Statistics struct {
	TotalSessions   int
	LabeledSessions int
	Unknown         int
	PerVehicle      map[string]int
}

// Entry is one item of a batch label request. An empty Vehicle marks the
// session unknown.
type Entry struct {
	SessionID  string
	Vehicle    string
	Confidence *float64
	Source     model.LabelSource
}

// Store is the file-backed session label document.
type Store struct {
	path string
	now  func() time.Time

	mu          sync.Mutex
	sessions    map[string]model.SessionLabel
	unknown     []string
	lastUpdated time.Time
}

// Open loads the label document at path. A missing document yields an empty
// store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: utcNow, sessions: map[string]model.SessionLabel{}}
	var d document
	found, err := jsondoc.Load(path, &d)
	if err != nil {
		return nil, err
	}
	if found {
		if err := s.adopt(d); err != nil {
			return nil, errs.E(errs.KindCorrupt, "labels.open", fmt.Errorf("%s: %w", path, err))
		}
	}
	return s, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// adopt validates a decoded document and normalises it so the three-state
// invariant holds even when the file was edited by hand.
func (s *Store) adopt(d document) error {
	for id, l := range d.Sessions {
		if id == "" {
			return fmt.Errorf("empty session id")
		}
		if l.Vehicle == "" {
			return fmt.Errorf("session %s: empty vehicle", id)
		}
		if l.Source != "" && !l.Source.Valid() {
			return fmt.Errorf("session %s: unknown source %q", id, l.Source)
		}
		if l.Confidence != nil && (*l.Confidence < 0 || *l.Confidence > 1) {
			return fmt.Errorf("session %s: confidence %v outside [0,1]", id, *l.Confidence)
		}
		s.sessions[id] = l
	}
	seen := map[string]bool{}
	for _, id := range d.UnknownSessions {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		// a labeled entry wins unless it is the batch "Unknown" marker
		if l, ok := s.sessions[id]; ok && l.Vehicle != model.UnknownVehicle {
			continue
		}
		s.unknown = append(s.unknown, id)
	}
	if d.LastUpdated != nil {
		s.lastUpdated = *d.LastUpdated
	}
	return nil
}

// Path returns the backing document location.
func (s *Store) Path() string { return s.path }

// Label assigns a session to vehicle. An empty vehicle marks the session
// unknown instead. Both directions are idempotent.
func (s *Store) Label(sessionID, vehicle string, confidence *float64, source model.LabelSource) error {
	if err := validate(sessionID, confidence, source); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if vehicle == "" {
		s.markUnknown(sessionID)
		return nil
	}
	if model.ReservedVehicleID(vehicle) {
		return errs.Errorf(errs.KindValidation, "labels.label", "vehicle id %q is reserved", vehicle)
	}
	s.sessions[sessionID] = model.SessionLabel{
		Vehicle:    vehicle,
		Confidence: cloneFloat(confidence),
		Source:     source,
		LabeledAt:  s.now(),
	}
	s.unknown = slices.DeleteFunc(s.unknown, func(id string) bool { return id == sessionID })
	return nil
}

// Unlabel drops any vehicle label and lists the session as unknown.
func (s *Store) Unlabel(sessionID string) error {
	if sessionID == "" {
		return errs.Errorf(errs.KindValidation, "labels.unlabel", "session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markUnknown(sessionID)
	return nil
}

// MarkUnknownLabel records a low-confidence classifier result: the session
// gets an "Unknown" vehicle entry carrying the confidence and is also listed
// as unknown.
func (s *Store) MarkUnknownLabel(sessionID string, confidence float64, source model.LabelSource) error {
	if err := validate(sessionID, &confidence, source); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = model.SessionLabel{
		Vehicle:    model.UnknownVehicle,
		Confidence: &confidence,
		Source:     source,
		LabeledAt:  s.now(),
	}
	if !slices.Contains(s.unknown, sessionID) {
		s.unknown = append(s.unknown, sessionID)
	}
	return nil
}

func (s *Store) markUnknown(sessionID string) {
	delete(s.sessions, sessionID)
	if !slices.Contains(s.unknown, sessionID) {
		s.unknown = append(s.unknown, sessionID)
	}
}

func validate(sessionID string, confidence *float64, source model.LabelSource) error {
	if sessionID == "" {
		return errs.Errorf(errs.KindValidation, "labels.label", "session id is required")
	}
	if !source.Valid() {
		return errs.Errorf(errs.KindValidation, "labels.label", "unknown label source %q", source)
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return errs.Errorf(errs.KindValidation, "labels.label", "confidence %v outside [0,1]", *confidence)
	}
	return nil
}

// BatchLabel applies entries in order and returns how many were applied.
// It stops at the first invalid entry.
func (s *Store) BatchLabel(entries []Entry) (int, error) {
	for i, e := range entries {
		if err := s.Label(e.SessionID, e.Vehicle, e.Confidence, e.Source); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// Get returns the label of a session.
func (s *Store) Get(sessionID string) (model.SessionLabel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[sessionID]
	if ok {
		l.Confidence = cloneFloat(l.Confidence)
	}
	return l, ok
}

// Vehicle returns the vehicle a session is labeled with, or "".
func (s *Store) Vehicle(sessionID string) string {
	l, _ := s.Get(sessionID)
	return l.Vehicle
}

// IsLabeled reports whether the session carries a vehicle label. The
// "Unknown" marker is not one.
func (s *Store) IsLabeled(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[sessionID]
	return ok && l.Vehicle != model.UnknownVehicle
}

// IsUnknown reports whether the session is listed as unknown.
func (s *Store) IsUnknown(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.unknown, sessionID)
}

// Unknown returns the unknown session ids in insertion order.
func (s *Store) Unknown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.unknown)
}

// Labeled returns a copy of every labeled session.
func (s *Store) Labeled() map[string]model.SessionLabel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.sessions)
}

// SessionsByVehicle lists the sessions labeled with vehicle, sorted.
func (s *Store) SessionsByVehicle(vehicle string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, l := range s.sessions {
		if l.Vehicle == vehicle {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Statistics derives counts from the current state.
func (s *Store) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statistics()
}

// statistics counts an "Unknown" marker entry once, as unknown.
func (s *Store) statistics() Statistics {
	st := Statistics{
		Unknown:    len(s.unknown),
		PerVehicle: map[string]int{},
	}
	for id, l := range s.sessions {
		if l.Vehicle == model.UnknownVehicle {
			if !slices.Contains(s.unknown, id) {
				st.Unknown++
			}
			continue
		}
		st.LabeledSessions++
		st.PerVehicle[l.Vehicle]++
	}
	st.TotalSessions = st.LabeledSessions + st.Unknown
	return st
}

// LastUpdated is the time of the last successful save, or of the loaded
// document.
func (s *Store) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// Save atomically replaces the backing document, refreshing statistics and
// last_updated.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	d := document{
		Sessions:        s.sessions,
		UnknownSessions: s.unknown,
		LastUpdated:     &now,
		Statistics:      s.statistics().document(),
	}
	if d.UnknownSessions == nil {
		d.UnknownSessions = []string{}
	}
	if err := jsondoc.Save(s.path, d); err != nil {
		return err
	}
	s.lastUpdated = now
	return nil
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
