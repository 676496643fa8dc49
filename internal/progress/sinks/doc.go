// Package sinks implements progress consumers: Prometheus collectors for run,
// listing and lookup counters, and a zap-backed log sink for local debugging.
package sinks
