// Package otel exports the service counters as OpenTelemetry instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. One callback reads the
// snapshot on every collection cycle. Callers own the MeterProvider.
package otel
