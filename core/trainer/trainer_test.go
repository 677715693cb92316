package trainer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/corpus"
	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/labels"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/profile"
)

func record(id string, kws ...float64) model.SessionRecord {
	rec := model.SessionRecord{SessionID: id}
	for i, v := range kws {
		rec.Samples = append(rec.Samples, model.PowerSample{SampleNumber: i + 1, PowerKW: &v})
	}
	return rec
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type fixture struct {
	corpus corpus.Dir
	labels *labels.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := labels.Open(filepath.Join(dir, "session_vehicle_map.json"))
	require.NoError(t, err)
	return fixture{corpus: corpus.New(filepath.Join(dir, "sessions")), labels: l}
}

func (f fixture) add(t *testing.T, rec model.SessionRecord, vehicle string) {
	t.Helper()
	_, err := f.corpus.Write(rec, time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	if vehicle != "" {
		require.NoError(t, f.labels.Label(rec.SessionID, vehicle, nil, model.SourceManual))
	}
}

func TestTrainSkipAndContinue(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("good", repeat(9.0, 10)...), "volvo")
	f.add(t, record("empty"), "volvo")

	res, err := New(f.corpus, f.labels, nil).Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Profiles, 1)
	p := res.Profiles["volvo"]
	assert.Equal(t, 1, p.Count)
	assert.InDelta(t, 9.0, p.MeanPower.Mean, 1e-9)
	assert.Equal(t, 0.0, p.MeanPower.Std)
}

func TestTrainSkipsUnlabeledAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("a", repeat(9.0, 5)...), "equinox")
	f.add(t, record("b", repeat(7.0, 5)...), "")
	f.add(t, record("c", repeat(7.0, 5)...), "")
	require.NoError(t, f.labels.MarkUnknownLabel("c", 0.3, model.SourceClassifier))

	res, err := New(f.corpus, f.labels, nil).Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, map[string]int{"equinox": 1}, res.Vehicles)
}

func TestTrainSkipsCorruptRecord(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("a", 7.0, 7.2, 7.1), "volvo")
	bad := filepath.Join(f.corpus.Root, "2025", "06", "01", "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))

	res, err := New(f.corpus, f.labels, nil).Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestTrainAggregatesPopulationStats(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("a", repeat(9.0, 4)...), "equinox")
	f.add(t, record("b", repeat(9.4, 4)...), "equinox")
	f.add(t, record("c", 6.8, 7.2), "volvo")

	res, err := New(f.corpus, f.labels, nil).Train(context.Background())
	require.NoError(t, err)
	eq := res.Profiles["equinox"]
	assert.Equal(t, 2, eq.Count)
	assert.InDelta(t, 9.2, eq.MeanPower.Mean, 1e-9)
	assert.InDelta(t, 0.2, eq.MeanPower.Std, 1e-9)
	assert.InDelta(t, 9.2, eq.P25Power.Mean, 1e-9)
	assert.InDelta(t, 0.0, eq.CVStability.Mean, 1e-12)

	vo := res.Profiles["volvo"]
	assert.InDelta(t, 7.0, vo.MeanPower.Mean, 1e-9)
	assert.InDelta(t, 6.9, vo.P25Power.Mean, 1e-9)
	assert.InDelta(t, 0.2/7.0, vo.CVStability.Mean, 1e-9)
}

func TestTrainMissingCorpus(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.corpus, f.labels, nil).Train(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNoData))
}

type trainingSink struct {
	metrics.NopSink
	events []metrics.TrainingEvent
}

func (s *trainingSink) RecordTraining(ev metrics.TrainingEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestTrainAndSave(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("a", repeat(9.0, 4)...), "equinox")
	f.add(t, record("b", repeat(7.0, 4)...), "volvo")
	path := filepath.Join(t.TempDir(), "classifier_summary.json")
	sink := &trainingSink{}

	res, err := New(f.corpus, f.labels, nil, WithMetrics(sink)).TrainAndSave(context.Background(), path)
	require.NoError(t, err)
	saved, err := profile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, res.Profiles, saved)
	require.Len(t, sink.events, 1)
	assert.Equal(t, 2, sink.events[0].Processed)
}

func TestTrainAndSaveKeepsProfilesWhenNothingTrained(t *testing.T) {
	f := newFixture(t)
	f.add(t, record("a", repeat(9.0, 4)...), "")
	path := filepath.Join(t.TempDir(), "classifier_summary.json")
	prev := model.ProfileMap{"volvo": {Count: 3, MeanPower: model.Stat{Mean: 7}}}
	require.NoError(t, profile.Save(path, prev))

	_, err := New(f.corpus, f.labels, nil).TrainAndSave(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNoData))
	got, err := profile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, prev, got)
}

type failingCorpus struct{}

func (failingCorpus) Walk(context.Context, func(string) error) error {
	return errors.New("permission denied")
}
func (failingCorpus) Read(string) (model.SessionRecord, error) { return model.SessionRecord{}, nil }

func TestTrainCorpusFailureAborts(t *testing.T) {
	_, err := New(failingCorpus{}, newFixture(t).labels, nil).Train(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}
