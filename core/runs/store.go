// Package runs keeps the history of start-charging runs (data/runs.json).
package runs

import (
	"slices"
	"sync"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/internal/jsondoc"
)

type document struct {
	Runs []model.RunRecord `json:"runs"`
}

// Store appends run records to a JSON document.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path. The file is created on first
// append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Append adds rec to the end of the history.
func (s *Store) Append(rec model.RunRecord) error {
	if rec.RunID == "" || rec.Result == "" {
		return errs.Errorf(errs.KindValidation, "runs.append", "run id and result are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return err
	}
	d.Runs = append(d.Runs, rec)
	return jsondoc.Save(s.path, d)
}

// List returns the history, oldest first.
func (s *Store) List() ([]model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.Runs), nil
}

// Last returns up to n most recent runs, newest first.
func (s *Store) Last(n int) ([]model.RunRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	slices.Reverse(all)
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (s *Store) load() (document, error) {
	var d document
	if _, err := jsondoc.Load(s.path, &d); err != nil {
		return d, err
	}
	return d, nil
}
