// Package metrics defines the events recorded by homecharge and the sink
// interfaces that observe them. The base MetricsSink records predictions;
// sinks opt into the other events by implementing the matching recorder.
// Sinks are built from configuration through NewMetricsSink, which returns
// a MultiSink when several are configured.
package metrics
