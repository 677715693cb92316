package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	coremetrics "github.com/kilianp07/homecharge/core/metrics"
)

// PromConfig configures the Prometheus sink. Short-lived commands push to a
// Pushgateway on Flush when PushURL is set.
type PromConfig struct {
	Namespace  string `json:"namespace"`
	PushURL    string `json:"push_url"`
	Job        string `json:"job"`
	ListenAddr string `json:"listen_addr"`
}

// SetDefaults fills the namespace and job name.
func (c *PromConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "homecharge"
	}
	if c.Job == "" {
		c.Job = "homecharge"
	}
}

// PromSink records homecharge events in Prometheus metrics.
type PromSink struct {
	cfg      PromConfig
	gatherer prometheus.Gatherer

	predictions *prometheus.CounterVec
	confidence  *prometheus.HistogramVec
	trained     *prometheus.GaugeVec
	training    *prometheus.GaugeVec
	batch       *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	polling     prometheus.Histogram
	charger     *prometheus.GaugeVec
	power       *prometheus.GaugeVec
	lastRun     *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registry.
func NewPromSink(cfg PromConfig) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewPromSinkWithRegistry registers metrics on reg and pushes or serves
// what g gathers. Nil arguments default to the global registry.
func NewPromSinkWithRegistry(cfg PromConfig, reg prometheus.Registerer, g prometheus.Gatherer) (*PromSink, error) {
	cfg.SetDefaults()
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	ns := cfg.Namespace
	s := &PromSink{
		cfg:      cfg,
		gatherer: g,
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "predictions_total",
			Help: "Classifier predictions by predicted vehicle",
		}, []string{"vehicle_id", "source", "labeled"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "prediction_confidence",
			Help:    "Confidence of classifier predictions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"source"}),
		trained: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "profile_sessions",
			Help: "Labeled sessions behind each vehicle profile at the last training",
		}, []string{"vehicle_id"}),
		training: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "training_records",
			Help: "Corpus records processed or skipped at the last training",
		}, []string{"outcome"}),
		batch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "batch_sessions_total",
			Help: "Sessions handled by batch labeling by action",
		}, []string{"action"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "batch_skipped_total",
			Help: "Sessions skipped by batch labeling by reason",
		}, []string{"reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "charge_runs_total",
			Help: "Start-charging runs by type and result",
		}, []string{"run_type", "result"}),
		polling: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "charge_polling_seconds",
			Help:    "Time spent waiting for the scheduled charge to end",
			Buckets: []float64{0, 60, 300, 600, 900, 1200},
		}),
		charger: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "charger_state",
			Help: "Home charger flags (connected, plugged_in, charging) as 0/1",
		}, []string{"device_id", "flag"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "charger_power_kw",
			Help: "Power of the active session",
		}, []string{"device_id"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last completed job",
		}, []string{"job"}),
	}

	var err error
	if s.predictions, err = register(reg, s.predictions); err != nil {
		return nil, err
	}
	if s.confidence, err = register(reg, s.confidence); err != nil {
		return nil, err
	}
	if s.trained, err = register(reg, s.trained); err != nil {
		return nil, err
	}
	if s.training, err = register(reg, s.training); err != nil {
		return nil, err
	}
	if s.batch, err = register(reg, s.batch); err != nil {
		return nil, err
	}
	if s.skipped, err = register(reg, s.skipped); err != nil {
		return nil, err
	}
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	if s.polling, err = register(reg, s.polling); err != nil {
		return nil, err
	}
	if s.charger, err = register(reg, s.charger); err != nil {
		return nil, err
	}
	if s.power, err = register(reg, s.power); err != nil {
		return nil, err
	}
	if s.lastRun, err = register(reg, s.lastRun); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier sink.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	vehicle := ev.VehicleID
	if vehicle == "" {
		vehicle = "none"
	}
	s.predictions.WithLabelValues(vehicle, ev.Source, strconv.FormatBool(ev.Labeled)).Inc()
	if ev.VehicleID != "" {
		s.confidence.WithLabelValues(ev.Source).Observe(ev.Confidence)
	}
	return nil
}

func (s *PromSink) RecordTraining(ev coremetrics.TrainingEvent) error {
	s.trained.Reset()
	for id, n := range ev.Vehicles {
		s.trained.WithLabelValues(id).Set(float64(n))
	}
	s.training.WithLabelValues("processed").Set(float64(ev.Processed))
	s.training.WithLabelValues("skipped").Set(float64(ev.Skipped))
	s.lastRun.WithLabelValues("train").Set(float64(ev.Time.Unix()))
	return nil
}

func (s *PromSink) RecordBatch(ev coremetrics.BatchEvent) error {
	s.batch.WithLabelValues("labeled").Add(float64(ev.Labeled))
	s.batch.WithLabelValues("unknown").Add(float64(ev.Unknown))
	s.batch.WithLabelValues("below_threshold").Add(float64(ev.BelowThreshold))
	for reason, n := range ev.Skipped {
		s.skipped.WithLabelValues(reason).Add(float64(n))
	}
	s.lastRun.WithLabelValues("classify").Set(float64(ev.Time.Unix()))
	return nil
}

func (s *PromSink) RecordChargeRun(ev coremetrics.ChargeRunEvent) error {
	s.runs.WithLabelValues(ev.RunType, ev.Result).Inc()
	s.polling.Observe(ev.PollingDuration.Seconds())
	s.lastRun.WithLabelValues("charge").Set(float64(ev.Time.Unix()))
	return nil
}

func (s *PromSink) RecordChargerState(ev coremetrics.ChargerStateEvent) error {
	s.charger.WithLabelValues(ev.DeviceID, "connected").Set(boolGauge(ev.Connected))
	s.charger.WithLabelValues(ev.DeviceID, "plugged_in").Set(boolGauge(ev.PluggedIn))
	s.charger.WithLabelValues(ev.DeviceID, "charging").Set(boolGauge(ev.SessionID != ""))
	s.power.WithLabelValues(ev.DeviceID).Set(ev.PowerKW)
	return nil
}

// Flush pushes every gathered metric to the Pushgateway when one is
// configured.
func (s *PromSink) Flush() error {
	if s.cfg.PushURL == "" {
		return nil
	}
	return push.New(s.cfg.PushURL, s.cfg.Job).Gatherer(s.gatherer).Push()
}

// Handler exposes the gathered metrics for scraping.
func (s *PromSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// ListenAddr is where a long-running command should serve Handler; empty
// disables serving.
func (s *PromSink) ListenAddr() string { return s.cfg.ListenAddr }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
