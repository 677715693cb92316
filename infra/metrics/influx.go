package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/homecharge/core/logger"
	coremetrics "github.com/kilianp07/homecharge/core/metrics"
	infralogger "github.com/kilianp07/homecharge/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes homecharge events to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A trailing
// /api/v2/write is tolerated.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when
// the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPrediction writes one classifier decision.
func (s *InfluxSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	p := write.NewPointWithMeasurement("vehicle_prediction").
		AddTag("session_id", ev.SessionID).
		AddTag("source", ev.Source).
		AddTag("labeled", strconv.FormatBool(ev.Labeled))
	if ev.VehicleID != "" {
		p = p.AddTag("vehicle_id", ev.VehicleID)
	}
	p = p.AddField("confidence", round3(ev.Confidence)).
		AddField("candidates", ev.Candidates).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTraining writes one point per trained vehicle.
func (s *InfluxSink) RecordTraining(ev coremetrics.TrainingEvent) error {
	p := write.NewPointWithMeasurement("training_run").
		AddField("processed", ev.Processed).
		AddField("skipped", ev.Skipped).
		AddField("vehicles", len(ev.Vehicles)).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	if err := s.write(p); err != nil {
		return err
	}
	for id, n := range ev.Vehicles {
		vp := write.NewPointWithMeasurement("vehicle_profile").
			AddTag("vehicle_id", id).
			AddField("sessions", n).
			SetTime(ev.Time)
		if err := s.write(vp); err != nil {
			return err
		}
	}
	return nil
}

// RecordBatch writes a batch labeling summary.
func (s *InfluxSink) RecordBatch(ev coremetrics.BatchEvent) error {
	p := write.NewPointWithMeasurement("batch_run").
		AddField("sessions", ev.Sessions).
		AddField("labeled", ev.Labeled).
		AddField("unknown", ev.Unknown).
		AddField("below_threshold", ev.BelowThreshold).
		AddField("duration_ms", ev.Duration.Milliseconds())
	for reason, n := range ev.Skipped {
		p = p.AddField("skipped_"+reason, n)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordChargeRun writes a start-charging outcome.
func (s *InfluxSink) RecordChargeRun(ev coremetrics.ChargeRunEvent) error {
	p := write.NewPointWithMeasurement("charge_run").
		AddTag("run_type", ev.RunType).
		AddTag("result", ev.Result).
		AddField("reason", ev.Reason).
		AddField("attempts", ev.Attempts).
		AddField("polling_s", round3(ev.PollingDuration.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordChargerState writes a charger snapshot.
func (s *InfluxSink) RecordChargerState(ev coremetrics.ChargerStateEvent) error {
	p := write.NewPointWithMeasurement("charger_state").
		AddTag("device_id", ev.DeviceID).
		AddTag("charging_status", ev.ChargingStatus).
		AddField("connected", ev.Connected).
		AddField("plugged_in", ev.PluggedIn).
		AddField("power_kw", round3(ev.PowerKW)).
		AddField("session_id", ev.SessionID).
		SetTime(ev.Time)
	return s.write(p)
}

// Flush closes the client. Writes are blocking so nothing is buffered.
func (s *InfluxSink) Flush() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
