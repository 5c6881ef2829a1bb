// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_observe wires OpenTelemetry metric instruments to a
// Prometheus /metrics endpoint. Instruments cover call outcomes, ticket
// insertions, provider traffic and latency, phrase-cache effectiveness
// and per-component error counts.
package internal_observe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/rapidaai/sav-voicebot"

// Metrics holds every instrument the voicebot records. The underlying
// OTel types are safe for concurrent use.
type Metrics struct {
	// CallsTotal counts finished calls. Attributes: status, problem_type.
	CallsTotal metric.Int64Counter

	// TicketsCreated counts ticket inserts. Attributes: severity, tag.
	TicketsCreated metric.Int64Counter

	// ProviderRequests counts provider API calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ProviderDuration tracks provider call latency in seconds.
	// Attributes: provider, kind.
	ProviderDuration metric.Float64Histogram

	// CacheLookups counts phrase cache lookups. Attributes: result
	// (hit|miss), kind (static|dynamic).
	CacheLookups metric.Int64Counter

	// ActiveCalls tracks concurrently admitted calls.
	ActiveCalls metric.Int64UpDownCounter

	// ErrorsTotal counts internal errors. Attributes: component.
	ErrorsTotal metric.Int64Counter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments from the given provider. Tests pass
// their own provider to avoid cross-test pollution.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallsTotal, err = m.Int64Counter("voicebot.calls.total",
		metric.WithDescription("Finished calls by status and problem type."),
	); err != nil {
		return nil, err
	}
	if met.TicketsCreated, err = m.Int64Counter("voicebot.tickets.created",
		metric.WithDescription("Tickets inserted by severity and tag."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicebot.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicebot.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("voicebot.provider.duration",
		metric.WithDescription("Provider call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("voicebot.cache.lookups",
		metric.WithDescription("Phrase cache lookups by result and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("voicebot.active_calls",
		metric.WithDescription("Currently admitted calls."),
	); err != nil {
		return nil, err
	}
	if met.ErrorsTotal, err = m.Int64Counter("voicebot.errors.total",
		metric.WithDescription("Internal errors by component."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordCall records one finished call.
func (m *Metrics) RecordCall(ctx context.Context, status, problemType string) {
	m.CallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("problem_type", problemType),
	))
}

// RecordTicket records one ticket insertion.
func (m *Metrics) RecordTicket(ctx context.Context, severity, tag string) {
	m.TicketsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.String("tag", tag),
	))
}

// RecordProvider records one provider call with its outcome and latency.
func (m *Metrics) RecordProvider(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordCacheLookup records one phrase cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordError counts one internal error for a component.
func (m *Metrics) RecordError(ctx context.Context, component string) {
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
	))
}

// InitProvider installs a Prometheus-backed meter provider as the OTel
// global and returns the metrics plus the scrape handler.
func InitProvider() (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	metrics, err := NewMetrics(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("observe: instruments: %w", err)
	}
	return metrics, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
