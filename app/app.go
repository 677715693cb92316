// Package app builds the components the commands run from a loaded
// configuration.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kilianp07/homecharge/config"
	"github.com/kilianp07/homecharge/core/backfill"
	"github.com/kilianp07/homecharge/core/batch"
	"github.com/kilianp07/homecharge/core/chargerstate"
	"github.com/kilianp07/homecharge/core/charging"
	"github.com/kilianp07/homecharge/core/classifier"
	"github.com/kilianp07/homecharge/core/collect"
	"github.com/kilianp07/homecharge/core/corpus"
	"github.com/kilianp07/homecharge/core/labels"
	coremetrics "github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/monitor"
	"github.com/kilianp07/homecharge/core/registry"
	"github.com/kilianp07/homecharge/core/runs"
	"github.com/kilianp07/homecharge/core/trainer"
	"github.com/kilianp07/homecharge/core/vendor"
	"github.com/kilianp07/homecharge/infra/chargepoint"
	"github.com/kilianp07/homecharge/infra/logger"
	"github.com/kilianp07/homecharge/infra/metrics"
	"github.com/kilianp07/homecharge/infra/mqtt"
	"github.com/kilianp07/homecharge/infra/notify"
)

// App owns the shared resources of one command invocation. Components are
// built on first use so commands that never talk to the vendor do not need
// credentials.
type App struct {
	Config *config.Config
	Sink   coremetrics.MetricsSink

	log    logger.Logger
	vendor vendor.Client
	cp     *chargepoint.Client
	mqtt   *mqtt.PahoClient
}

// New applies the log level and builds the metrics sinks.
func New(cfg *config.Config) (*App, error) {
	logger.SetLevel(cfg.Log.Level)
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	return &App{Config: cfg, Sink: sink, log: logger.New("app")}, nil
}

// Vendor returns the ChargePoint client, validating credentials first.
func (a *App) Vendor() (vendor.Client, error) {
	if a.vendor != nil {
		return a.vendor, nil
	}
	if err := a.Config.Vendor.Validate(); err != nil {
		return nil, err
	}
	a.cp = chargepoint.New(a.Config.Vendor, logger.New("chargepoint"))
	a.vendor = a.cp
	return a.vendor, nil
}

// SetVendor replaces the vendor client, mainly for tests.
func (a *App) SetVendor(v vendor.Client) { a.vendor, a.cp = v, nil }

func (a *App) Registry() (*registry.Registry, error) {
	return registry.Open(a.Config.Storage.Vehicles)
}

func (a *App) Labels() (*labels.Store, error) {
	return labels.Open(a.Config.Storage.Labels)
}

func (a *App) Classifier() (*classifier.Classifier, error) {
	return classifier.Load(a.Config.Storage.Profiles)
}

func (a *App) Corpus() corpus.Dir { return corpus.New(a.Config.Storage.Sessions) }

// Trainer builds a trainer over the corpus and the current labels.
func (a *App) Trainer() (*trainer.Trainer, error) {
	lbl, err := a.Labels()
	if err != nil {
		return nil, err
	}
	return trainer.New(a.Corpus(), lbl, logger.New("trainer"), trainer.WithMetrics(a.Sink)), nil
}

// Backfiller builds the corpus backfill over the vendor's session history.
func (a *App) Backfiller() (*backfill.Backfiller, error) {
	v, err := a.Vendor()
	if err != nil {
		return nil, err
	}
	return &backfill.Backfiller{Vendor: v, Corpus: a.Corpus(), Log: logger.New("backfill")}, nil
}

// Batch builds the batch labeling driver and returns the label store it
// writes to.
func (a *App) Batch() (*batch.Driver, *labels.Store, error) {
	v, err := a.Vendor()
	if err != nil {
		return nil, nil, err
	}
	reg, err := a.Registry()
	if err != nil {
		return nil, nil, err
	}
	cls, err := a.Classifier()
	if err != nil {
		return nil, nil, err
	}
	lbl, err := a.Labels()
	if err != nil {
		return nil, nil, err
	}
	return &batch.Driver{
		Vendor:     v,
		Registry:   reg,
		Classifier: cls,
		Labels:     lbl,
		Log:        logger.New("batch"),
		Sink:       a.Sink,
	}, lbl, nil
}

// Runs returns the charge-run history.
func (a *App) Runs() *runs.Store { return runs.NewStore(a.Config.Storage.Runs) }

// ChargeRunner builds the start-charging workflow. An empty runID gets a
// fresh one.
func (a *App) ChargeRunner(runID string) (*charging.Runner, error) {
	v, err := a.Vendor()
	if err != nil {
		return nil, err
	}
	n, err := a.notifier()
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	c := a.Config.Charge
	cfg := charging.Config{
		Location:     c.Location(),
		WindowStart:  c.WindowStart,
		WindowEnd:    c.WindowEnd,
		LastHour:     c.LastHour,
		PollInterval: c.PollInterval,
		Backoff:      c.Backoff,
		StationID:    a.Config.Vendor.StationID,
		RunID:        runID,
	}
	return charging.NewRunner(v, a.Runs(), n, a.Sink, logger.New("charge"), cfg), nil
}

// notifier returns nil, not a typed nil, when notifications are off.
func (a *App) notifier() (charging.Notifier, error) {
	if !a.Config.Notify.Enabled() {
		return nil, nil
	}
	n, err := notify.New(a.Config.Notify, logger.New("notify"))
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return n, nil
}

// Monitor builds the session detector with its MQTT publisher when one is
// configured.
func (a *App) Monitor() (*monitor.Monitor, error) {
	v, err := a.Vendor()
	if err != nil {
		return nil, err
	}
	var pub monitor.Publisher
	if a.Config.MQTT.Enabled() {
		if a.mqtt == nil {
			c, err := mqtt.NewPahoClient(a.Config.MQTT)
			if err != nil {
				return nil, fmt.Errorf("mqtt client: %w", err)
			}
			a.mqtt = c
		}
		pub = a.mqtt
	}
	state := chargerstate.NewFileStore(a.Config.Storage.State)
	m := monitor.New(v, state, pub, a.Sink, logger.New("monitor"), a.Config.Charge.Location())
	m.Retries = a.Config.Monitor.Retries
	m.RetryInterval = a.Config.Monitor.RetryInterval
	return m, nil
}

// Collector builds the session sampler. Classification is skipped when no
// vehicle has been trained yet.
func (a *App) Collector() (*collect.Collector, error) {
	v, err := a.Vendor()
	if err != nil {
		return nil, err
	}
	reg, err := a.Registry()
	if err != nil {
		return nil, err
	}
	cls, err := a.Classifier()
	if err != nil {
		return nil, err
	}
	c := &collect.Collector{
		Vendor:   v,
		Corpus:   a.Corpus(),
		Vehicles: reg,
		Sink:     a.Sink,
		Log:      logger.New("collect"),
		Config:   a.Config.Collect,
	}
	if len(cls.Vehicles()) > 0 {
		c.Classifier = cls
	}
	return c, nil
}

// ServeMetrics serves the first scrapable sink until ctx is done. It
// returns immediately when no sink asks to be served.
func (a *App) ServeMetrics(ctx context.Context) {
	sc, ok := metrics.FindScrapable(a.Sink)
	if !ok {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, sc.ListenAddr(), sc.Handler()); err != nil {
			a.log.Errorf("metrics server: %v", err)
		}
	}()
}

// Close saves the vendor response cache, flushes metrics and disconnects
// from the broker.
func (a *App) Close() error {
	if a.cp != nil {
		if err := a.cp.SaveCache(); err != nil {
			a.log.Warnf("save response cache: %v", err)
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	return coremetrics.Flush(a.Sink)
}
