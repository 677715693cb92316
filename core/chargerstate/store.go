// Package chargerstate keeps the last observed charger and session snapshot
// (data/last_session.json) used to detect new charging sessions.
package chargerstate

import (
	"sync"
	"time"

	"github.com/kilianp07/homecharge/internal/jsondoc"
)

// ChargerState is the charger portion of a snapshot.
type ChargerState struct {
	ChargerID       string     `json:"charger_id,omitempty"`
	Connected       bool       `json:"connected"`
	PluggedIn       bool       `json:"plugged_in"`
	ChargingStatus  string     `json:"charging_status,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
	SessionID       string     `json:"session_id,omitempty"`
	Charging        bool       `json:"charging"`
}

// Snapshot is what the monitor knew at its last check. An empty SessionID
// means no session was active.
type Snapshot struct {
	SessionID         string       `json:"session_id"`
	Timestamp         time.Time    `json:"timestamp"`
	DetectedAt        string       `json:"detected_at"`
	PowerKW           *float64     `json:"power_kw"`
	EnergyKWh         *float64     `json:"energy_kwh"`
	DurationMinutes   *float64     `json:"duration_minutes"`
	VehicleID         string       `json:"vehicle_id,omitempty"`
	VehicleConfidence *float64     `json:"vehicle_confidence"`
	Status            ChargerState `json:"status"`
}

// Store persists the latest snapshot.
type Store interface {
	// Last returns the stored snapshot; ok is false when none exists yet.
	Last() (snap Snapshot, ok bool, err error)
	Set(Snapshot) error
}

// MemoryStore keeps the snapshot in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Last() (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, false, nil
	}
	return *s.snap, true, nil
}

func (s *MemoryStore) Set(snap Snapshot) error {
	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()
	return nil
}

// FileStore keeps the snapshot in a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Last() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap Snapshot
	found, err := jsondoc.Load(s.path, &snap)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *FileStore) Set(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsondoc.Save(s.path, snap)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
