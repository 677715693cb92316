package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/config"
	"github.com/kilianp07/homecharge/core/backfill"
	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/factory"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/profile"
	"github.com/kilianp07/homecharge/core/vendor"
	"github.com/kilianp07/homecharge/internal/vendortest"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := &config.Config{Storage: config.StorageConfig{DataDir: t.TempDir()}}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestVendorRequiresCredentials(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.Vendor()
	require.Error(t, err)

	a = newTestApp(t, func(c *config.Config) {
		c.Vendor.Username = "driver@example.com"
		c.Vendor.Password = "secret"
	})
	v, err := a.Vendor()
	require.NoError(t, err)
	again, err := a.Vendor()
	require.NoError(t, err)
	assert.Same(t, v, again)
}

func TestCloseSavesResponseCache(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Vendor.Username = "driver@example.com"
		c.Vendor.Password = "secret"
	})
	_, err := a.Vendor()
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.FileExists(t, a.Config.Vendor.CachePath)
}

func TestChargeRunnerWithoutNotifier(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Vendor.StationID = "9001" })
	a.SetVendor(&vendortest.Fake{})

	r, err := a.ChargeRunner("")
	require.NoError(t, err)
	assert.Nil(t, r.Notifier)
	assert.NotEmpty(t, r.Config.RunID)
	assert.Equal(t, "9001", r.Config.StationID)
	assert.Equal(t, "America/Los_Angeles", r.Config.Location.String())

	r, err = a.ChargeRunner("4242")
	require.NoError(t, err)
	assert.Equal(t, "4242", r.Config.RunID)
}

func TestChargeRunnerWithNotifier(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Notify.URLs = []string{"generic://localhost:8080/hook?disabletls=yes"}
	})
	a.SetVendor(&vendortest.Fake{})

	r, err := a.ChargeRunner("1")
	require.NoError(t, err)
	assert.NotNil(t, r.Notifier)
}

func TestMonitorWithoutBroker(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Monitor.Retries = 3 })
	a.SetVendor(&vendortest.Fake{})

	m, err := a.Monitor()
	require.NoError(t, err)
	assert.Nil(t, m.Publisher)
	assert.Equal(t, 3, m.Retries)
}

func TestCollectorClassifiesOnlyWithProfiles(t *testing.T) {
	a := newTestApp(t, nil)
	a.SetVendor(&vendortest.Fake{})

	c, err := a.Collector()
	require.NoError(t, err)
	assert.Nil(t, c.Classifier)

	require.NoError(t, profile.Save(a.Config.Storage.Profiles, model.ProfileMap{
		"bolt": {Count: 4, MeanPower: model.Stat{Mean: 7.1}},
	}))
	c, err = a.Collector()
	require.NoError(t, err)
	assert.NotNil(t, c.Classifier)
}

func TestBackfillFillsCorpus(t *testing.T) {
	a := newTestApp(t, nil)
	a.SetVendor(&vendortest.Fake{
		Months: map[string][]vendor.Session{
			vendortest.MonthKey(2025, time.March): {
				{"session_id": "77", "start_time": "2025-03-09T06:00:00Z", "energy_kwh": 55.0},
			},
		},
		Activities: map[string]vendor.Activity{"77": {Samples: []float64{7.1, 7.2}}},
	})

	b, err := a.Backfiller()
	require.NoError(t, err)
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	sum, err := b.Run(t.Context(), backfill.Options{Start: day, End: day, MinKWh: backfill.DefaultMinKWh})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Written)
	assert.FileExists(t, a.Corpus().PathFor("77", day))
}

func TestTrainerOnEmptyCorpus(t *testing.T) {
	a := newTestApp(t, nil)
	tr, err := a.Trainer()
	require.NoError(t, err)

	_, err = tr.TrainAndSave(t.Context(), a.Config.Storage.Profiles)
	assert.True(t, errs.Is(err, errs.KindNoData), "got %v", err)
}

func TestUnknownMetricsSink(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{DataDir: t.TempDir()}}
	cfg.SetDefaults()
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "statsd"}}
	_, err := New(cfg)
	assert.Error(t, err)
}
