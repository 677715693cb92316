package metrics

import "time"

// PredictionEvent is one classifier decision.
type PredictionEvent struct {
	SessionID  string
	VehicleID  string
	Confidence float64
	Candidates int
	// Labeled is true when the prediction was written to the label store.
	Labeled bool
	Source  string
	Time    time.Time
}

// MetricsSink records classifier predictions.
type MetricsSink interface {
	RecordPrediction(ev PredictionEvent) error
}

// TrainingEvent summarises one training run.
type TrainingEvent struct {
	Processed int
	Skipped   int
	Vehicles  map[string]int
	Duration  time.Duration
	Time      time.Time
}

// TrainingRecorder records training runs.
type TrainingRecorder interface {
	RecordTraining(ev TrainingEvent) error
}

// BatchEvent summarises one batch labeling run.
type BatchEvent struct {
	Sessions       int
	Labeled        int
	Unknown        int
	BelowThreshold int
	Skipped        map[string]int
	Duration       time.Duration
	Time           time.Time
}

// BatchRecorder records batch labeling runs.
type BatchRecorder interface {
	RecordBatch(ev BatchEvent) error
}

// ChargeRunEvent is the outcome of a start-charging run.
type ChargeRunEvent struct {
	RunType         string
	Result          string
	Reason          string
	Attempts        int
	PollingDuration time.Duration
	Time            time.Time
}

// ChargeRunRecorder records start-charging runs.
type ChargeRunRecorder interface {
	RecordChargeRun(ev ChargeRunEvent) error
}

// ChargerStateEvent is a snapshot of the home charger.
type ChargerStateEvent struct {
	DeviceID       string
	ChargingStatus string
	Connected      bool
	PluggedIn      bool
	SessionID      string
	PowerKW        float64
	Time           time.Time
}

// ChargerStateRecorder records charger snapshots.
type ChargerStateRecorder interface {
	RecordChargerState(ev ChargerStateEvent) error
}

// Flusher is implemented by sinks that buffer or push, such as the
// Pushgateway sink used by short-lived commands.
type Flusher interface {
	Flush() error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPrediction(PredictionEvent) error     { return nil }
func (NopSink) RecordTraining(TrainingEvent) error         { return nil }
func (NopSink) RecordBatch(BatchEvent) error               { return nil }
func (NopSink) RecordChargeRun(ChargeRunEvent) error       { return nil }
func (NopSink) RecordChargerState(ChargerStateEvent) error { return nil }
func (NopSink) Flush() error                               { return nil }

// OrNop returns s, or NopSink when s is nil.
func OrNop(s MetricsSink) MetricsSink {
	if s == nil {
		return NopSink{}
	}
	return s
}

// RecordTraining forwards ev when s supports training events.
func RecordTraining(s MetricsSink, ev TrainingEvent) error {
	if r, ok := s.(TrainingRecorder); ok {
		return r.RecordTraining(ev)
	}
	return nil
}

// RecordBatch forwards ev when s supports batch events.
func RecordBatch(s MetricsSink, ev BatchEvent) error {
	if r, ok := s.(BatchRecorder); ok {
		return r.RecordBatch(ev)
	}
	return nil
}

// RecordChargeRun forwards ev when s supports charge run events.
func RecordChargeRun(s MetricsSink, ev ChargeRunEvent) error {
	if r, ok := s.(ChargeRunRecorder); ok {
		return r.RecordChargeRun(ev)
	}
	return nil
}

// RecordChargerState forwards ev when s supports charger snapshots.
func RecordChargerState(s MetricsSink, ev ChargerStateEvent) error {
	if r, ok := s.(ChargerStateRecorder); ok {
		return r.RecordChargerState(ev)
	}
	return nil
}

// Flush flushes s when it buffers.
func Flush(s MetricsSink) error {
	if f, ok := s.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
