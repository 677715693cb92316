// Package batch labels historical sessions in bulk: it lists the vendor's
// sessions for a date range, classifies each one against the vehicles that
// were valid on its date and records confident predictions in the label
// store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/kilianp07/homecharge/core/classifier"
	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/registry"
	"github.com/kilianp07/homecharge/core/vendor"
)

// DefaultMinConfidence is the threshold above which predictions are stored.
const DefaultMinConfidence = 0.9

// Skip reasons reported in Summary.Skipped.
const (
	SkipMissingID    = "missing_id"
	SkipNoTimestamp  = "no_timestamp"
	SkipBadTimestamp = "bad_timestamp"
	SkipNoActivity   = "no_activity"
	SkipNoSamples    = "no_samples"
	SkipNoPrediction = "no_prediction"
	SkipManualLabel  = "manual_label"
)

// Vehicles is the registry view the driver needs.
type Vehicles interface {
	All() map[string]model.Vehicle
}

// Predictor classifies power samples.
type Predictor interface {
	Predict(samples []float64, eligible map[string]struct{}) model.Prediction
}

// Labels is the label store view the driver needs.
type Labels interface {
	Get(sessionID string) (model.SessionLabel, bool)
	Label(sessionID, vehicle string, confidence *float64, source model.LabelSource) error
	MarkUnknownLabel(sessionID string, confidence float64, source model.LabelSource) error
	Save() error
}

// Options select the sessions and what to do with predictions.
type Options struct {
	// Start and End are calendar days, both inclusive.
	Start, End time.Time
	// MinConfidence is the lowest confidence written as a label. Callers
	// usually pass DefaultMinConfidence.
	MinConfidence float64
	// UpdateMap writes decisions to the label store; without it the run is
	// a dry run. Sessions carrying a manual label are then skipped.
	UpdateMap bool
	// LabelUnknown records sessions below the threshold as "Unknown".
	LabelUnknown bool
	// Location defines calendar days. Defaults to UTC.
	Location *time.Location
}

// Action is what happened to one classified session.
type Action string

const (
	ActionLabeled        Action = "labeled"
	ActionUnknown        Action = "unknown"
	ActionBelowThreshold Action = "below_threshold"
)

// Prediction echoes one classified session.
type Prediction struct {
	SessionID  string
	Time       time.Time
	DeviceID   string
	VehicleID  string
	Confidence float64
	Eligible   []string
	Action     Action
}

// Summary is the result of a run. It is returned even when saving fails.
type Summary struct {
	Sessions       int
	Labeled        int
	Unknown        int
	BelowThreshold int
	Skipped        map[string]int
	Predictions    []Prediction
	Saved          bool
}

// SkippedTotal sums every skip reason.
func (s Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Driver runs batch labeling. Registry may be nil, in which case every
// profiled vehicle is a candidate.
type Driver struct {
	Vendor     vendor.Client
	Registry   Vehicles
	Classifier Predictor
	Labels     Labels
	Log        logger.Logger
	Sink       metrics.MetricsSink

	now func() time.Time
}

type candidate struct {
	id   string
	at   time.Time
	info vendor.Session
}

// Run classifies every session whose timestamp falls within the range.
// Per-session problems are counted and logged; only context cancellation,
// a failing month listing or a failing save abort the run.
func (d *Driver) Run(ctx context.Context, opts Options) (Summary, error) {
	log := logger.OrNop(d.Log)
	sink := metrics.OrNop(d.Sink)
	now := d.now
	if now == nil {
		now = time.Now
	}
	began := now()

	opts, err := normalise(opts)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Skipped: map[string]int{}}

	sessions, err := d.collect(ctx, opts, &sum, log)
	if err != nil {
		return sum, err
	}

	changed := false
	for _, c := range sessions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Sessions++
		if opts.UpdateMap {
			if l, ok := d.Labels.Get(c.id); ok && l.Source == model.SourceManual {
				sum.Skipped[SkipManualLabel]++
				log.Infof("session %s: keeping manual label %s", c.id, l.Vehicle)
				continue
			}
		}
		act, err := d.Vendor.SessionActivity(ctx, c.id)
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

		var eligible map[string]struct{}
		if d.Registry != nil {
			eligible = classifier.Eligible(registry.FilterByDate(d.Registry.All(), c.at))
		}
		pred := d.Classifier.Predict(act.Samples, eligible)
		if !pred.Found() {
			sum.Skipped[SkipNoPrediction]++
			log.Warnf("session %s: no prediction (%d eligible vehicles)", c.id, len(eligible))
			continue
		}

		p := Prediction{
			SessionID:  c.id,
			Time:       c.at,
			DeviceID:   c.info.DeviceID(),
			VehicleID:  pred.VehicleID,
			Confidence: pred.Confidence,
		}
		if eligible != nil {
			p.Eligible = slices.Sorted(maps.Keys(eligible))
		}
		conf := pred.Confidence
		switch {
		case conf >= opts.MinConfidence:
			p.Action = ActionLabeled
			sum.Labeled++
			if opts.UpdateMap {
				if err := d.Labels.Label(c.id, pred.VehicleID, &conf, model.SourceClassifier); err != nil {
					return sum, fmt.Errorf("label %s: %w", c.id, err)
				}
				changed = true
			}
		case opts.LabelUnknown:
			p.Action = ActionUnknown
			sum.Unknown++
			if opts.UpdateMap {
				if err := d.Labels.MarkUnknownLabel(c.id, conf, model.SourceClassifier); err != nil {
					return sum, fmt.Errorf("mark %s unknown: %w", c.id, err)
				}
				changed = true
			}
		default:
			p.Action = ActionBelowThreshold
			sum.BelowThreshold++
		}
		sum.Predictions = append(sum.Predictions, p)
		log.Infow("session classified", map[string]any{
			"session_id": c.id,
			"vehicle":    p.VehicleID,
			"confidence": p.Confidence,
			"action":     string(p.Action),
		})
		if err := sink.RecordPrediction(metrics.PredictionEvent{
			SessionID:  c.id,
			VehicleID:  p.VehicleID,
			Confidence: p.Confidence,
			Candidates: len(pred.Distances),
			Labeled:    opts.UpdateMap && p.Action != ActionBelowThreshold,
			Source:     string(model.SourceClassifier),
			Time:       now(),
		}); err != nil {
			log.Warnf("record prediction: %v", err)
		}
	}

	if changed {
		if err := d.Labels.Save(); err != nil {
			return sum, fmt.Errorf("save labels: %w", err)
		}
		sum.Saved = true
	}
	if err := metrics.RecordBatch(sink, metrics.BatchEvent{
		Sessions:       sum.Sessions,
		Labeled:        sum.Labeled,
		Unknown:        sum.Unknown,
		BelowThreshold: sum.BelowThreshold,
		Skipped:        sum.Skipped,
		Duration:       now().Sub(began),
		Time:           now(),
	}); err != nil {
		log.Warnf("record batch metrics: %v", err)
	}
	return sum, nil
}

func normalise(o Options) (Options, error) {
	const op = "batch.options"
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MinConfidence < 0 || o.MinConfidence > 1 {
		return o, errs.Errorf(errs.KindValidation, op, "min confidence %v outside [0,1]", o.MinConfidence)
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
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// collect lists each month touched by the range once and returns the
// sessions that fall on a day of the range, oldest first.
func (d *Driver) collect(ctx context.Context, opts Options, sum *Summary, log logger.Logger) ([]candidate, error) {
	var out []candidate
	seen := map[string]bool{}
	last := opts.End.AddDate(0, 0, 1)
	for month := time.Date(opts.Start.Year(), opts.Start.Month(), 1, 0, 0, 0, 0, opts.Location); month.Before(last); month = month.AddDate(0, 1, 0) {
		list, err := d.Vendor.Sessions(ctx, month.Year(), month.Month())
		if err != nil {
			return nil, fmt.Errorf("list sessions %04d-%02d: %w", month.Year(), int(month.Month()), err)
		}
		log.Debugf("%04d-%02d: %d sessions", month.Year(), int(month.Month()), len(list))
		for _, s := range list {
			id := s.ID()
			if id == "" {
				sum.Skipped[SkipMissingID]++
				log.Warnf("session without id in %04d-%02d", month.Year(), int(month.Month()))
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
			local := at.In(opts.Location)
			if local.Before(opts.Start) || !local.Before(last) {
				continue
			}
			out = append(out, candidate{id: id, at: local, info: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].id < out[j].id
	})
	return out, nil
}
