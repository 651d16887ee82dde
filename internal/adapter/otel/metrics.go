// Package otel provides OpenTelemetry metric instruments and exporter setup.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tiergate"

// Metrics holds all tiergate metric instruments.
type Metrics struct {
	Decisions         metric.Int64Counter
	DecisionFallbacks metric.Int64Counter
	DecisionLatency   metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	RunsStarted       metric.Int64Counter
	RunsCompleted     metric.Int64Counter
	RunsFailed        metric.Int64Counter
	SagaCompensations metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("tiergate.decisions",
		metric.WithDescription("Routing decisions by tier and source"))
	if err != nil {
		return nil, err
	}

	m.DecisionFallbacks, err = meter.Int64Counter("tiergate.decisions.fallbacks",
		metric.WithDescription("Decisions produced by a degraded path"))
	if err != nil {
		return nil, err
	}

	m.DecisionLatency, err = meter.Float64Histogram("tiergate.decision.latency_seconds",
		metric.WithDescription("Decision engine latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("tiergate.decision.cache_hits",
		metric.WithDescription("Decision cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("tiergate.decision.cache_misses",
		metric.WithDescription("Decision cache misses"))
	if err != nil {
		return nil, err
	}

	m.RunsStarted, err = meter.Int64Counter("tiergate.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("tiergate.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("tiergate.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.SagaCompensations, err = meter.Int64Counter("tiergate.saga.compensations",
		metric.WithDescription("Saga compensation sweeps executed"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
