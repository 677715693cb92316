package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink sees every event;
// errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) each(fn func(MetricsSink) error) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPrediction(ev PredictionEvent) error {
	return m.each(func(s MetricsSink) error { return s.RecordPrediction(ev) })
}

func (m *MultiSink) RecordTraining(ev TrainingEvent) error {
	return m.each(func(s MetricsSink) error { return RecordTraining(s, ev) })
}

func (m *MultiSink) RecordBatch(ev BatchEvent) error {
	return m.each(func(s MetricsSink) error { return RecordBatch(s, ev) })
}

func (m *MultiSink) RecordChargeRun(ev ChargeRunEvent) error {
	return m.each(func(s MetricsSink) error { return RecordChargeRun(s, ev) })
}

func (m *MultiSink) RecordChargerState(ev ChargerStateEvent) error {
	return m.each(func(s MetricsSink) error { return RecordChargerState(s, ev) })
}

// Flush flushes every buffering sink.
func (m *MultiSink) Flush() error {
	return m.each(Flush)
}
