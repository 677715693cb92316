// Package trainer rebuilds vehicle profiles from the labeled session corpus.
package trainer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/features"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/profile"
)

// Corpus enumerates and decodes historical session records.
type Corpus interface {
	Walk(ctx context.Context, fn func(path string) error) error
	Read(path string) (model.SessionRecord, error)
}

// Labels resolves a session to its vehicle, "" when unlabeled.
type Labels interface {
	Vehicle(sessionID string) string
}

// Result reports what a training run produced.
type Result struct {
	Profiles  model.ProfileMap
	Processed int
	Skipped   int
	// Vehicles counts the fingerprints that went into each profile.
	Vehicles map[string]int
}

// Trainer aggregates fingerprints per labeled vehicle.
type Trainer struct {
	corpus Corpus
	labels Labels
	log    logger.Logger
	sink   metrics.MetricsSink
	now    func() time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithMetrics records every run on sink.
func WithMetrics(sink metrics.MetricsSink) Option {
	return func(t *Trainer) { t.sink = metrics.OrNop(sink) }
}

// New builds a Trainer over corpus and labels.
func New(corpus Corpus, labels Labels, log logger.Logger, opts ...Option) *Trainer {
	t := &Trainer{
		corpus: corpus,
		labels: labels,
		log:    logger.OrNop(log),
		sink:   metrics.NopSink{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Train walks the corpus once. Records that are unlabeled, unreadable or
// carry no usable signal are skipped; only failure to enumerate the corpus
// is returned as an error.
func (t *Trainer) Train(ctx context.Context) (Result, error) {
	start := t.now()
	byVehicle := map[string][]model.Fingerprint{}
	res := Result{Vehicles: map[string]int{}}

	err := t.corpus.Walk(ctx, func(path string) error {
		rec, err := t.corpus.Read(path)
		if err != nil {
			res.Skipped++
			t.log.Warnf("skip %s: %v", path, err)
			return nil
		}
		vehicle := t.labels.Vehicle(rec.SessionID)
		if vehicle == "" || vehicle == model.UnknownVehicle {
			res.Skipped++
			t.log.Debugf("skip %s: unlabeled", rec.SessionID)
			return nil
		}
		fp, ok := features.Extract(rec.PowerValues())
		if !ok {
			res.Skipped++
			t.log.Debugw("skip session without signal", map[string]any{
				"session_id": rec.SessionID,
				"samples":    len(rec.Samples),
			})
			return nil
		}
		byVehicle[vehicle] = append(byVehicle[vehicle], fp)
		res.Processed++
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk corpus: %w", err)
	}

	res.Profiles = Aggregate(byVehicle)
	for v, fps := range byVehicle {
		res.Vehicles[v] = len(fps)
	}
	t.log.Infow("training finished", map[string]any{
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"vehicles":  slices.Sorted(maps.Keys(res.Vehicles)),
	})
	if err := metrics.RecordTraining(t.sink, metrics.TrainingEvent{
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Vehicles:  res.Vehicles,
		Duration:  t.now().Sub(start),
		Time:      t.now(),
	}); err != nil {
		t.log.Warnf("record training metrics: %v", err)
	}
	return res, nil
}

// TrainAndSave trains and atomically replaces the profile document at path.
// Nothing is written when the corpus cannot be enumerated.
func (t *Trainer) TrainAndSave(ctx context.Context, path string) (Result, error) {
	res, err := t.Train(ctx)
	if err != nil {
		return res, err
	}
	if len(res.Profiles) == 0 {
		return res, errs.Errorf(errs.KindNoData, "trainer.save", "no labeled session produced a fingerprint")
	}
	if err := profile.Save(path, res.Profiles); err != nil {
		return res, err
	}
	return res, nil
}

// Aggregate summarises each vehicle's fingerprints. Vehicles without any
// fingerprint are omitted.
func Aggregate(byVehicle map[string][]model.Fingerprint) model.ProfileMap {
	out := make(model.ProfileMap, len(byVehicle))
	for v, fps := range byVehicle {
		if len(fps) == 0 {
			continue
		}
		means := make([]float64, len(fps))
		p25s := make([]float64, len(fps))
		cvs := make([]float64, len(fps))
		for i, fp := range fps {
			means[i] = fp.MeanPowerKW
			p25s[i] = fp.P25PowerKW
			cvs[i] = fp.CVStability
		}
		out[v] = model.VehicleProfile{
			Count:       len(fps),
			MeanPower:   summarise(means),
			P25Power:    summarise(p25s),
			CVStability: summarise(cvs),
		}
	}
	return out
}

func summarise(xs []float64) model.Stat {
	mean, std := stat.PopMeanStdDev(xs, nil)
	return model.Stat{Mean: mean, Std: std}
}
