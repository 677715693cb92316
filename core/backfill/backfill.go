// Package backfill seeds the training corpus from the vendor's session
// history. Full charges in a date range are fetched with their power curve
// and written as corpus records; sessions already in the corpus are left
// alone.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kilianp07/homecharge/core/collect"
	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/vendor"
)

// DefaultMinKWh separates full charges from top-ups.
const DefaultMinKWh = 40.0

// Skip reasons reported in Summary.Skipped.
const (
	SkipMissingID    = "missing_id"
	SkipNoTimestamp  = "no_timestamp"
	SkipBadTimestamp = "bad_timestamp"
	SkipNoEnergy     = "no_energy"
	SkipLowEnergy    = "below_min_energy"
	SkipExists       = "exists"
	SkipNoActivity   = "no_activity"
	SkipNoSamples    = "no_samples"
)

// Corpus is the record store the backfill reads and extends.
type Corpus interface {
	Walk(ctx context.Context, fn func(path string) error) error
	Write(rec model.SessionRecord, day time.Time) (string, error)
}

// Options select the sessions to fetch.
type Options struct {
	// Start and End are calendar days, both inclusive.
	Start, End time.Time
	// MinKWh is the least energy a session must have delivered. Callers
	// usually pass DefaultMinKWh.
	MinKWh float64
	// Limit caps the number of records written, largest sessions first.
	// Zero writes every candidate.
	Limit int
	// Location defines calendar days. Defaults to UTC.
	Location *time.Location
}

// Summary is the result of a run. It is returned even when a run aborts.
type Summary struct {
	Listed  int
	Written int
	Paths   []string
	Skipped map[string]int
}

// SkippedTotal sums every skip reason.
func (s Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Backfiller writes historical sessions to the corpus.
type Backfiller struct {
	Vendor vendor.Client
	Corpus Corpus
	Log    logger.Logger
}

type candidate struct {
	id     string
	at     time.Time
	energy float64
}

// Run fetches and stores every full charge of the range that is not in the
// corpus yet. Per-session problems are counted and logged; context
// cancellation, a failing month listing or a failing write abort the run.
func (b *Backfiller) Run(ctx context.Context, opts Options) (Summary, error) {
	log := logger.OrNop(b.Log)
	opts, err := normalise(opts)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Skipped: map[string]int{}}

	have, err := b.existing(ctx)
	if err != nil {
		return sum, err
	}
	cands, err := b.candidates(ctx, opts, have, &sum, log)
	if err != nil {
		return sum, err
	}
	if opts.Limit > 0 && len(cands) > opts.Limit {
		log.Infof("%d full charges found, fetching the %d largest", len(cands), opts.Limit)
		cands = cands[:opts.Limit]
	}

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		act, err := b.Vendor.SessionActivity(ctx, c.id)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Skipped[SkipNoActivity]++
			log.Warnf("session %s: no activity: %v", c.id, err)
			continue
		}
		if len(act.Samples) == 0 {
			sum.Skipped[SkipNoSamples]++
			log.Warnf("session %s: no power samples", c.id)
			continue
		}
		rec := record(c, act)
		path, err := b.Corpus.Write(rec, rec.CollectionStart)
		if err != nil {
			return sum, fmt.Errorf("write %s: %w", c.id, err)
		}
		sum.Written++
		sum.Paths = append(sum.Paths, path)
		log.Infow("session backfilled", map[string]any{
			"session_id": c.id,
			"energy_kwh": c.energy,
			"samples":    rec.SampleCount,
			"path":       path,
		})
	}
	return sum, nil
}

// existing lists the session ids already in the corpus. A corpus that does
// not exist yet is empty.
func (b *Backfiller) existing(ctx context.Context) (map[string]bool, error) {
	have := map[string]bool{}
	err := b.Corpus.Walk(ctx, func(path string) error {
		have[strings.TrimSuffix(filepath.Base(path), ".json")] = true
		return nil
	})
	if err != nil && !errs.Is(err, errs.KindNoData) {
		return nil, err
	}
	return have, nil
}

// candidates lists each month touched by the range once and returns the
// sessions worth fetching, largest energy first.
func (b *Backfiller) candidates(ctx context.Context, opts Options, have map[string]bool, sum *Summary, log logger.Logger) ([]candidate, error) {
	var out []candidate
	seen := map[string]bool{}
	last := opts.End.AddDate(0, 0, 1)
	for month := time.Date(opts.Start.Year(), opts.Start.Month(), 1, 0, 0, 0, 0, opts.Location); month.Before(last); month = month.AddDate(0, 1, 0) {
		list, err := b.Vendor.Sessions(ctx, month.Year(), month.Month())
		if err != nil {
			return nil, fmt.Errorf("list sessions %04d-%02d: %w", month.Year(), int(month.Month()), err)
		}
		for _, s := range list {
			id := s.ID()
			if id == "" {
				sum.Skipped[SkipMissingID]++
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			at, err := s.Timestamp()
			if err != nil {
				reason := SkipBadTimestamp
				if errors.Is(err, vendor.ErrNoTimestamp) {
					reason = SkipNoTimestamp
				}
				sum.Skipped[reason]++
				log.Warnf("session %s: %v", id, err)
				continue
			}
			if local := at.In(opts.Location); local.Before(opts.Start) || !local.Before(last) {
				continue
			}
			sum.Listed++
			energy, ok := s.EnergyKWh()
			switch {
			case !ok:
				sum.Skipped[SkipNoEnergy]++
				continue
			case energy < opts.MinKWh:
				sum.Skipped[SkipLowEnergy]++
				continue
			case have[id]:
				sum.Skipped[SkipExists]++
				continue
			}
			out = append(out, candidate{id: id, at: at, energy: energy})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].energy != out[j].energy {
			return out[i].energy > out[j].energy
		}
		return out[i].id < out[j].id
	})
	return out, nil
}

// record needs at least one sample. The session's energy total is kept on
// the last one.
func record(c candidate, act vendor.Activity) model.SessionRecord {
	start := c.at.UTC()
	samples := make([]model.PowerSample, len(act.Samples))
	for i, p := range act.Samples {
		samples[i] = model.PowerSample{SampleNumber: i + 1, SessionID: c.id, PowerKW: &p}
	}
	samples[len(samples)-1].EnergyKWh = act.EnergyKWh
	rec := model.SessionRecord{
		SessionID:        c.id,
		CollectionStart:  start,
		SampleCount:      len(samples),
		ValidSampleCount: len(samples),
		Samples:          samples,
		Statistics:       collect.Stats(act.Samples),
		DataSource:       model.DataSourceHistory,
	}
	if act.DurationMinutes != nil && *act.DurationMinutes > 0 {
		d := time.Duration(*act.DurationMinutes * float64(time.Minute))
		rec.CollectionEnd = start.Add(d)
		rec.DurationSeconds = d.Seconds()
	}
	return rec
}

func normalise(o Options) (Options, error) {
	const op = "backfill.options"
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MinKWh < 0 {
		return o, errs.Errorf(errs.KindValidation, op, "min kWh %v is negative", o.MinKWh)
	}
	if o.Limit < 0 {
		return o, errs.Errorf(errs.KindValidation, op, "limit %d is negative", o.Limit)
	}
	if o.Start.IsZero() || o.End.IsZero() {
		return o, errs.Errorf(errs.KindValidation, op, "start and end dates are required")
	}
	o.Start = day(o.Start, o.Location)
	o.End = day(o.End, o.Location)
	if o.End.Before(o.Start) {
		return o, errs.Errorf(errs.KindValidation, op, "end %s before start %s",
			o.End.Format(model.DateLayout), o.Start.Format(model.DateLayout))
	}
	return o, nil
}

func day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
