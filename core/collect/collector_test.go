package collect

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/classifier"
	"github.com/kilianp07/homecharge/core/corpus"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/vendor"
	"github.com/kilianp07/homecharge/internal/vendortest"
)

// scripted answers SessionActivity from a list of readings; a nil entry
// fails that sample.
type scripted struct {
	*vendortest.Fake
	powers []*float64
	calls  int
}

func (s *scripted) SessionActivity(_ context.Context, id string) (vendor.Activity, error) {
	p := s.powers[s.calls%len(s.powers)]
	s.calls++
	if p == nil {
		return vendor.Activity{}, errors.New("upstream 502")
	}
	return vendor.Activity{SessionID: id, PowerKW: p, Status: "in_use"}, nil
}

func ptr(v float64) *float64 { return &v }

type vehicles map[string]model.Vehicle

func (v vehicles) EligibleOn(time.Time) map[string]model.Vehicle { return v }

func newCollector(t *testing.T, v vendor.Client, pred Predictor) (*Collector, corpus.Dir, *[]time.Duration) {
	t.Helper()
	dir := corpus.New(filepath.Join(t.TempDir(), "sessions"))
	clock := time.Date(2025, 7, 5, 23, 59, 0, 0, time.UTC)
	var sleeps []time.Duration
	c := &Collector{
		Vendor:     v,
		Corpus:     dir,
		Classifier: pred,
		Config:     Config{Samples: 4, Interval: 10 * time.Second},
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock = clock.Add(d)
		return nil
	}
	return c, dir, &sleeps
}

func profiles() model.ProfileMap {
	return model.ProfileMap{
		"bolt":   {MeanPower: model.Stat{Mean: 6.5, Std: 0.3}},
		"model3": {MeanPower: model.Stat{Mean: 11.0, Std: 0.5}},
	}
}

func TestCollectWritesRecord(t *testing.T) {
	v := &scripted{Fake: &vendortest.Fake{}, powers: []*float64{ptr(6.0), nil, ptr(7.0), ptr(6.5)}}
	c, dir, sleeps := newCollector(t, v, classifier.New(profiles()))

	rec, path, err := c.Collect(context.Background(), "4242")
	require.NoError(t, err)

	assert.Equal(t, dir.PathFor("4242", rec.CollectionStart), path)
	assert.Equal(t, 4, rec.SampleCount)
	assert.Equal(t, 3, rec.ValidSampleCount)
	assert.Equal(t, 10, rec.IntervalSeconds)
	assert.Equal(t, "upstream 502", rec.Samples[1].Error)
	assert.Nil(t, rec.Samples[1].PowerKW)
	assert.Len(t, *sleeps, 3)
	for _, d := range *sleeps {
		// each sample call takes two clock reads
		assert.Equal(t, 8*time.Second, d)
	}

	require.NotNil(t, rec.Statistics)
	assert.InDelta(t, 6.5, rec.Statistics.AvgPowerKW, 1e-9)
	assert.InDelta(t, 7.0, rec.Statistics.MaxPowerKW, 1e-9)
	assert.InDelta(t, 6.0, rec.Statistics.MinPowerKW, 1e-9)
	assert.InDelta(t, 1.0/6, rec.Statistics.Variance, 1e-9)

	assert.Equal(t, "bolt", rec.VehicleID)
	require.NotNil(t, rec.VehicleConfidence)
	assert.Equal(t, "classifier", rec.LabeledBy)
	require.NotNil(t, rec.LabeledAt)

	got, err := dir.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{6.0, 7.0, 6.5}, got.PowerValues())
	assert.Equal(t, "bolt", got.VehicleID)
}

func TestCollectUsesStartDay(t *testing.T) {
	v := &scripted{Fake: &vendortest.Fake{}, powers: []*float64{ptr(6.0)}}
	c, _, _ := newCollector(t, v, nil)
	c.Config.Samples = 10

	rec, path, err := c.Collect(context.Background(), "9")
	require.NoError(t, err)
	// collection crosses midnight but is filed under the day it started
	assert.Equal(t, 5, rec.CollectionStart.Day())
	assert.Equal(t, 6, rec.CollectionEnd.Day())
	assert.Contains(t, path, filepath.Join("2025", "07", "05"))
	assert.Empty(t, rec.VehicleID)
}

func TestCollectRespectsEligibleVehicles(t *testing.T) {
	v := &scripted{Fake: &vendortest.Fake{}, powers: []*float64{ptr(6.4)}}
	c, _, _ := newCollector(t, v, classifier.New(profiles()))
	c.Vehicles = vehicles{"model3": {}}

	rec, _, err := c.Collect(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "model3", rec.VehicleID)
}

func TestCollectWithoutValidSamples(t *testing.T) {
	v := &scripted{Fake: &vendortest.Fake{}, powers: []*float64{nil}}
	c, _, _ := newCollector(t, v, classifier.New(profiles()))

	rec, path, err := c.Collect(context.Background(), "1")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Zero(t, rec.ValidSampleCount)
	assert.Nil(t, rec.Statistics)
	assert.Empty(t, rec.VehicleID)
}

func TestCollectCancelled(t *testing.T) {
	v := &scripted{Fake: &vendortest.Fake{}, powers: []*float64{ptr(6.0)}}
	c, dir, _ := newCollector(t, v, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, _, err := c.Collect(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = dir.Find(context.Background(), "1")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := Stats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, s.AvgPowerKW, 1e-12)
	assert.InDelta(t, 4.0, s.Variance, 1e-12)
	assert.Equal(t, 9.0, s.MaxPowerKW)
	assert.Equal(t, 2.0, s.MinPowerKW)
}
