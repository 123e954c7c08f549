// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the collector's Prometheus collectors and the
// status HTTP endpoint that exposes them.
//
// A nil *Metrics is valid and records nothing, so components can be
// constructed without metrics in tests and in offline replay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bureau_collector"

// Metrics is the set of collector counters and gauges.
type Metrics struct {
	Connections       *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	Records           *prometheus.CounterVec
	DroppedRecords    *prometheus.CounterVec
	Events            *prometheus.CounterVec

	BuffersStored       prometheus.Counter
	BuffersDeduplicated prometheus.Counter
	ChecksumMismatches  prometheus.Counter

	Uploads       *prometheus.CounterVec
	UploadedBytes prometheus.Counter
}

// New creates the collectors and registers them with registerer.
// Registering twice on the same registerer panics, as with promauto.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by handshake command.",
		}, []string{"command"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently being served.",
		}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Telemetry records decoded, by record type.",
		}, []string{"type"}),
		DroppedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_records_total",
			Help:      "Telemetry records dropped without producing an event, by reason.",
		}, []string{"reason"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Structured events emitted, by kind.",
		}, []string{"kind"}),
		BuffersStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_stored_total",
			Help:      "Memory buffers written to the buffer store.",
		}),
		BuffersDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_deduplicated_total",
			Help:      "Memory buffers already present in the buffer store.",
		}),
		ChecksumMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_checksum_mismatches_total",
			Help:      "Buffers whose declared checksum differed from the computed hash.",
		}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "File uploads by outcome.",
		}, []string{"outcome"}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the upload root, including truncation markers.",
		}),
	}
}

// Upload outcomes.
const (
	UploadComplete  = "complete"
	UploadTruncated = "truncated"
	UploadRejected  = "rejected"
	UploadFailed    = "failed"
)

// ConnectionOpened counts an accepted connection once its command is
// known and marks it active. Pair with ConnectionClosed.
func (m *Metrics) ConnectionOpened(command string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(command).Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) RecordDecoded(recordType string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(recordType).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedRecords.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

// BufferStored counts one buffer store call.
func (m *Metrics) BufferStored(deduplicated, checksumMatch bool) {
	if m == nil {
		return
	}
	if deduplicated {
		m.BuffersDeduplicated.Inc()
	} else {
		m.BuffersStored.Inc()
	}
	if !checksumMatch {
		m.ChecksumMismatches.Inc()
	}
}

// Upload counts one finished upload and the bytes it wrote.
func (m *Metrics) Upload(outcome string, size int64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.UploadedBytes.Add(float64(size))
	}
}
