// Package vendortest provides an in-memory vendor.Client for tests.
package vendortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/vendor"
)

// Fake is a scriptable vendor.Client. Zero values answer with no chargers,
// no sessions and an idle account.
type Fake struct {
	mu sync.Mutex

	Chargers []string
	// Statuses are returned in order by ChargerStatus; the last one repeats.
	Statuses []vendor.ChargerStatus
	// Users are returned in order by UserStatus; the last one repeats.
	Users []vendor.UserStatus
	// StartErrs are returned in order by StartSession; once exhausted the
	// start succeeds with StartedID.
	StartErrs  []error
	StartedID  string
	Activities map[string]vendor.Activity
	Months     map[string][]vendor.Session
	// Err, when set, fails every call.
	Err error

	Calls map[string]int
}

func (f *Fake) call(name string) error {
	if f.Calls == nil {
		f.Calls = map[string]int{}
	}
	f.Calls[name]++
	return f.Err
}

// CallCount returns how often the named method ran.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *Fake) HomeChargers(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("HomeChargers"); err != nil {
		return nil, err
	}
	return append([]string(nil), f.Chargers...), nil
}

func (f *Fake) ChargerStatus(_ context.Context, id string) (vendor.ChargerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ChargerStatus"); err != nil {
		return vendor.ChargerStatus{}, err
	}
	if len(f.Statuses) == 0 {
		return vendor.ChargerStatus{ChargerID: id}, nil
	}
	st := f.Statuses[0]
	if len(f.Statuses) > 1 {
		f.Statuses = f.Statuses[1:]
	}
	st.ChargerID = id
	return st, nil
}

func (f *Fake) UserStatus(context.Context) (vendor.UserStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UserStatus"); err != nil {
		return vendor.UserStatus{}, err
	}
	if len(f.Users) == 0 {
		return vendor.UserStatus{}, nil
	}
	u := f.Users[0]
	if len(f.Users) > 1 {
		f.Users = f.Users[1:]
	}
	return u, nil
}

func (f *Fake) StartSession(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("StartSession"); err != nil {
		return "", err
	}
	if len(f.StartErrs) > 0 {
		err := f.StartErrs[0]
		f.StartErrs = f.StartErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.StartedID, nil
}

func (f *Fake) SessionActivity(_ context.Context, id string) (vendor.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SessionActivity"); err != nil {
		return vendor.Activity{}, err
	}
	a, ok := f.Activities[id]
	if !ok {
		return vendor.Activity{}, errs.Errorf(errs.KindNoData, "fake.activity", "no activity for %s", id)
	}
	return a, nil
}

func (f *Fake) Sessions(_ context.Context, year int, month time.Month) ([]vendor.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("Sessions"); err != nil {
		return nil, err
	}
	return f.Months[MonthKey(year, month)], nil
}

// MonthKey indexes Months.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

var _ vendor.Client = (*Fake)(nil)
