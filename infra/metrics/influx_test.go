package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/factory"
	coremetrics "github.com/kilianp07/homecharge/core/metrics"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		l.mu.Lock()
		l.bodies = append(l.bodies, strings.TrimSpace(string(b)))
		l.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSinkRecordPrediction(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "t", Org: "o", Bucket: "b"})
	now := time.Now()
	require.NoError(t, sink.RecordPrediction(coremetrics.PredictionEvent{
		SessionID: "42", VehicleID: "bolt", Confidence: 0.91234, Candidates: 2, Source: "batch", Labeled: true, Time: now,
	}))

	exp := write.NewPointWithMeasurement("vehicle_prediction").
		AddTag("session_id", "42").
		AddTag("source", "batch").
		AddTag("labeled", "true").
		AddTag("vehicle_id", "bolt").
		AddField("confidence", 0.912).
		AddField("candidates", 2).
		SetTime(now)
	assert.Equal(t, []string{line(exp)}, rec.bodies)
}

func TestInfluxSinkRecordChargeRunAndState(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "o", Bucket: "b"})
	now := time.Now()
	require.NoError(t, sink.RecordChargeRun(coremetrics.ChargeRunEvent{
		RunType: "scheduled", Result: "success", Reason: "Charging session started successfully",
		Attempts: 1, PollingDuration: 640 * time.Second, Time: now,
	}))
	require.NoError(t, sink.RecordChargerState(coremetrics.ChargerStateEvent{
		DeviceID: "123", ChargingStatus: "CHARGING", Connected: true, PluggedIn: true, SessionID: "42", PowerKW: 7.2, Time: now,
	}))

	run := write.NewPointWithMeasurement("charge_run").
		AddTag("run_type", "scheduled").
		AddTag("result", "success").
		AddField("reason", "Charging session started successfully").
		AddField("attempts", 1).
		AddField("polling_s", 640.0).
		SetTime(now)
	state := write.NewPointWithMeasurement("charger_state").
		AddTag("device_id", "123").
		AddTag("charging_status", "CHARGING").
		AddField("connected", true).
		AddField("plugged_in", true).
		AddField("power_kw", 7.2).
		AddField("session_id", "42").
		SetTime(now)
	assert.Equal(t, []string{line(run), line(state)}, rec.bodies)
}

func TestInfluxSinkRecordTraining(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "o", Bucket: "b"})
	require.NoError(t, sink.RecordTraining(coremetrics.TrainingEvent{Processed: 4, Vehicles: map[string]int{"bolt": 4}, Time: time.Now()}))
	require.Len(t, rec.bodies, 2)
	assert.True(t, strings.HasPrefix(rec.bodies[0], "training_run "))
	assert.True(t, strings.HasPrefix(rec.bodies[1], "vehicle_profile,vehicle_id=bolt sessions=4i"))
}

func TestInfluxSinkWriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "bad", Org: "o", Bucket: "b"})
	assert.Error(t, sink.RecordBatch(coremetrics.BatchEvent{Labeled: 1, Time: time.Now()}))
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}

func TestFactoryRegistrations(t *testing.T) {
	sink, err := coremetrics.NewMetricsSink([]factory.ModuleConfig{
		{Type: "prometheus", Conf: map[string]any{"namespace": "factory_test", "job": "charge"}},
		{Type: "nop"},
	})
	require.NoError(t, err)
	// the nop entry is dropped, leaving the prometheus sink alone
	prom, ok := sink.(*PromSink)
	require.True(t, ok)
	assert.Equal(t, "charge", prom.cfg.Job)
	assert.Subset(t, coremetrics.SinkTypes(), []string{"influx", "nop", "prometheus"})

	_, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "statsd"}})
	assert.ErrorContains(t, err, "unknown module type")
}
