package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/homecharge/core/metrics"
)

func newTestPromSink(t *testing.T, cfg PromConfig) (*PromSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(cfg, reg, reg)
	require.NoError(t, err)
	return sink, reg
}

func TestPromSinkPredictions(t *testing.T) {
	sink, _ := newTestPromSink(t, PromConfig{})
	require.NoError(t, sink.RecordPrediction(coremetrics.PredictionEvent{VehicleID: "bolt", Confidence: 0.95, Source: "batch", Labeled: true}))
	require.NoError(t, sink.RecordPrediction(coremetrics.PredictionEvent{Source: "batch"}))

	expected := `
# HELP homecharge_predictions_total Classifier predictions by predicted vehicle
# TYPE homecharge_predictions_total counter
homecharge_predictions_total{labeled="false",source="batch",vehicle_id="none"} 1
homecharge_predictions_total{labeled="true",source="batch",vehicle_id="bolt"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(sink.predictions, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.confidence))
}

func TestPromSinkRunsAndCharger(t *testing.T) {
	sink, _ := newTestPromSink(t, PromConfig{Namespace: "hc"})
	now := time.Unix(1751720400, 0)
	require.NoError(t, sink.RecordChargeRun(coremetrics.ChargeRunEvent{RunType: "scheduled", Result: "success", PollingDuration: 640 * time.Second, Time: now}))
	require.NoError(t, sink.RecordChargeRun(coremetrics.ChargeRunEvent{RunType: "scheduled", Result: "success", Time: now}))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.runs.WithLabelValues("scheduled", "success")))
	assert.Equal(t, 1751720400.0, testutil.ToFloat64(sink.lastRun.WithLabelValues("charge")))

	require.NoError(t, sink.RecordChargerState(coremetrics.ChargerStateEvent{DeviceID: "123", Connected: true, PluggedIn: true, SessionID: "42", PowerKW: 7.2}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.charger.WithLabelValues("123", "charging")))
	assert.Equal(t, 7.2, testutil.ToFloat64(sink.power.WithLabelValues("123")))
}

func TestPromSinkTrainingAndBatch(t *testing.T) {
	sink, _ := newTestPromSink(t, PromConfig{})
	require.NoError(t, sink.RecordTraining(coremetrics.TrainingEvent{Processed: 10, Skipped: 2, Vehicles: map[string]int{"bolt": 6, "model3": 4}}))
	require.NoError(t, sink.RecordTraining(coremetrics.TrainingEvent{Processed: 3, Vehicles: map[string]int{"bolt": 3}}))
	// a vehicle missing from the latest training disappears
	assert.Equal(t, 1, testutil.CollectAndCount(sink.trained))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.training.WithLabelValues("processed")))

	require.NoError(t, sink.RecordBatch(coremetrics.BatchEvent{Labeled: 5, Unknown: 1, Skipped: map[string]int{"no_samples": 2}}))
	assert.Equal(t, 5.0, testutil.ToFloat64(sink.batch.WithLabelValues("labeled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.skipped.WithLabelValues("no_samples")))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(PromConfig{}, reg, reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(PromConfig{}, reg, reg)
	require.NoError(t, err)

	require.NoError(t, second.RecordChargeRun(coremetrics.ChargeRunEvent{RunType: "manual-start", Result: "failure"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.runs.WithLabelValues("manual-start", "failure")))
}

func TestPromSinkFlushPushes(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, _ := newTestPromSink(t, PromConfig{PushURL: srv.URL, Job: "classify"})
	require.NoError(t, sink.RecordBatch(coremetrics.BatchEvent{Labeled: 1}))
	require.NoError(t, sink.Flush())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/classify", path)
	assert.NotEmpty(t, body)
}

func TestPromSinkFlushWithoutGateway(t *testing.T) {
	sink, _ := newTestPromSink(t, PromConfig{})
	assert.NoError(t, sink.Flush())
}

func TestPromSinkHandler(t *testing.T) {
	sink, _ := newTestPromSink(t, PromConfig{})
	require.NoError(t, sink.RecordChargeRun(coremetrics.ChargeRunEvent{RunType: "scheduled", Result: "other"}))
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `homecharge_charge_runs_total{result="other",run_type="scheduled"} 1`)
}
