// Package infra holds the adapters behind the core interfaces: the
// ChargePoint HTTP client, metrics sinks, the MQTT publisher and the
// failure notifier.
package infra
