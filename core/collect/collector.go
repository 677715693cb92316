// Package collect samples a live charging session and writes it to the
// training corpus.
package collect

import (
	"context"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/homecharge/core/classifier"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/vendor"
)

// Corpus stores collected records.
type Corpus interface {
	Write(rec model.SessionRecord, day time.Time) (string, error)
}

// Predictor classifies a power curve.
type Predictor interface {
	Predict(samples []float64, eligible map[string]struct{}) model.Prediction
}

// Vehicles restricts classification to vehicles in service on a date.
type Vehicles interface {
	EligibleOn(asOf time.Time) map[string]model.Vehicle
}

// Config sets the sampling cadence.
type Config struct {
	Samples  int           `json:"samples"`
	Interval time.Duration `json:"interval"`
}

// SetDefaults applies 30 samples every 10 s.
func (c *Config) SetDefaults() {
	if c.Samples <= 0 {
		c.Samples = 30
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
}

// Collector samples sessions. Classifier and Vehicles are optional.
type Collector struct {
	Vendor     vendor.Client
	Corpus     Corpus
	Classifier Predictor
	Vehicles   Vehicles
	Sink       metrics.MetricsSink
	Log        logger.Logger
	Config     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Collect takes the configured number of samples of sessionID, classifies
// the curve and writes the record under the collection start day (UTC).
// Failed samples are kept with their error.
func (c *Collector) Collect(ctx context.Context, sessionID string) (model.SessionRecord, string, error) {
	c.Config.SetDefaults()
	log := logger.OrNop(c.Log)
	start := c.clock().UTC()
	log.Infof("collecting %d samples of session %s every %s", c.Config.Samples, sessionID, c.Config.Interval)

	samples := make([]model.PowerSample, 0, c.Config.Samples)
	for i := 1; i <= c.Config.Samples; i++ {
		began := c.clock()
		a, err := c.Vendor.SessionActivity(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return model.SessionRecord{}, "", ctx.Err()
			}
			log.Warnf("sample %d failed: %v", i, err)
			samples = append(samples, model.PowerSample{SampleNumber: i, Timestamp: c.clock().UTC(), Error: err.Error()})
		} else {
			samples = append(samples, model.PowerSample{
				SampleNumber:    i,
				Timestamp:       c.clock().UTC(),
				SessionID:       sessionID,
				PowerKW:         a.PowerKW,
				EnergyKWh:       a.EnergyKWh,
				DurationMinutes: a.DurationMinutes,
				Status:          a.Status,
			})
		}
		if i == c.Config.Samples {
			break
		}
		if rest := c.Config.Interval - c.clock().Sub(began); rest > 0 {
			if err := c.wait(ctx, rest); err != nil {
				return model.SessionRecord{}, "", err
			}
		}
	}
	end := c.clock().UTC()

	rec := model.SessionRecord{
		SessionID:       sessionID,
		CollectionStart: start,
		CollectionEnd:   end,
		DurationSeconds: end.Sub(start).Seconds(),
		SampleCount:     len(samples),
		IntervalSeconds: int(c.Config.Interval / time.Second),
		Samples:         samples,
	}
	powers := rec.PowerValues()
	rec.ValidSampleCount = len(powers)
	if len(powers) > 0 {
		rec.Statistics = Stats(powers)
		c.classify(&rec, powers, start)
	} else {
		log.Warnf("no valid power samples for session %s", sessionID)
	}

	path, err := c.Corpus.Write(rec, start)
	if err != nil {
		return rec, "", err
	}
	log.Infow("session collected", map[string]any{
		"session_id": sessionID,
		"valid":      rec.ValidSampleCount,
		"samples":    rec.SampleCount,
		"vehicle_id": rec.VehicleID,
		"path":       path,
	})
	return rec, path, nil
}

func (c *Collector) classify(rec *model.SessionRecord, powers []float64, asOf time.Time) {
	if c.Classifier == nil {
		return
	}
	var eligible map[string]struct{}
	if c.Vehicles != nil {
		eligible = classifier.Eligible(c.Vehicles.EligibleOn(asOf))
	}
	p := c.Classifier.Predict(powers, eligible)
	if err := metrics.OrNop(c.Sink).RecordPrediction(metrics.PredictionEvent{
		SessionID:  rec.SessionID,
		VehicleID:  p.VehicleID,
		Confidence: p.Confidence,
		Candidates: len(p.Distances),
		Source:     string(model.SourceClassifier),
		Time:       c.clock(),
	}); err != nil {
		logger.OrNop(c.Log).Warnf("record prediction: %v", err)
	}
	if !p.Found() {
		return
	}
	at := c.clock().UTC()
	conf := p.Confidence
	rec.VehicleID = p.VehicleID
	rec.VehicleConfidence = &conf
	rec.LabeledBy = string(model.SourceClassifier)
	rec.LabeledAt = &at
}

// Stats computes the descriptive statistics of non-empty power readings.
// Variance is the population variance.
func Stats(powers []float64) *model.SampleStats {
	mean, variance := stat.PopMeanVariance(powers, nil)
	return &model.SampleStats{
		AvgPowerKW: mean,
		MaxPowerKW: floats.Max(powers),
		MinPowerKW: floats.Min(powers),
		Variance:   variance,
	}
}

func (c *Collector) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Collector) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
