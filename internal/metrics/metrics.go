// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus collectors for decode and edit outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultError   = "error"
)

// Metrics tracks decode and edit operations.
type Metrics struct {
	registry *prometheus.Registry

	// DecodeTotal counts decoded files by format and result.
	DecodeTotal *prometheus.CounterVec

	// DecodeDuration tracks the time spent decoding a file.
	DecodeDuration *prometheus.HistogramVec

	// EditTotal counts write-back attempts by format and result.
	EditTotal *prometheus.CounterVec
}

// New creates the collectors and registers them in a new registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DecodeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genmeta_decode_total",
				Help: "Number of decoded files",
			},
			[]string{"format", "result"},
		),
		DecodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genmeta_decode_duration_seconds",
				Help:    "Time spent decoding a file",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),
		EditTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genmeta_edit_total",
				Help: "Number of metadata write-back attempts",
			},
			[]string{"format", "result"},
		),
	}

	m.registry.MustRegister(
		m.DecodeTotal,
		m.DecodeDuration,
		m.EditTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveDecode records one decode. A non-empty recordError marks a partial result.
func (m *Metrics) ObserveDecode(format, recordError string, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if recordError != "" {
		result = ResultPartial
	}
	m.DecodeTotal.WithLabelValues(format, result).Inc()
	m.DecodeDuration.WithLabelValues(format).Observe(d.Seconds())
}

// ObserveEdit records one write-back attempt.
func (m *Metrics) ObserveEdit(format string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.EditTotal.WithLabelValues(format, result).Inc()
}

// RegisterCache exposes the hit count and size of a record cache.
func (m *Metrics) RegisterCache(hits func() uint64, size func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "genmeta_cache_hits_total",
				Help: "Number of decodes answered by the record cache",
			},
			func() float64 { return float64(hits()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "genmeta_cache_records",
				Help: "Number of records in the record cache",
			},
			func() float64 { return float64(size()) },
		),
	)
}

// Handler returns the HTTP handler serving the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
