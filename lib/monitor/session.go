// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/collector/lib/callschema"
	"github.com/bureau-foundation/collector/lib/metrics"
	"github.com/bureau-foundation/collector/lib/sink"
	"github.com/bureau-foundation/collector/lib/wire"
)

// Drop reasons reported to metrics.
const (
	dropSchema   = "schema"
	dropStorage  = "storage"
	dropEncoding = "encoding"
)

// SessionConfig holds the parameters for one telemetry session.
type SessionConfig struct {
	// MaxFrameSize bounds a single record. Zero selects
	// wire.DefaultMaxFrameSize.
	MaxFrameSize uint32

	Buffers BufferStore
	Sink    sink.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Summary counts what a session did.
type Summary struct {
	Records int64
	Events  int64
	Dropped int64

	// Bytes is the number of wire bytes consumed by complete records.
	Bytes int64
}

// Session reads one monitor's telemetry stream and emits its events.
type Session struct {
	reader     *wire.FrameReader
	classifier *Classifier
	sink       sink.Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewSession prepares a session over stream. The sink is not closed by
// the session.
func NewSession(stream io.Reader, config SessionConfig) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	output := config.Sink
	if output == nil {
		output = sink.Discard{}
	}
	return &Session{
		reader: wire.NewFrameReader(stream, config.MaxFrameSize),
		classifier: NewClassifier(ClassifierConfig{
			Buffers: config.Buffers,
			Metrics: config.Metrics,
			Logger:  logger,
		}),
		sink:    output,
		metrics: config.Metrics,
		logger:  logger,
	}
}

// Classifier returns the session's classifier.
func (s *Session) Classifier() *Classifier {
	return s.classifier
}

// Run processes records until the stream ends. A clean end of stream
// between records returns nil. Framing errors (wire.ErrFraming),
// transport errors, and sink failures end the session and are
// returned; schema, storage, and event encoding errors drop one record
// and are logged.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		record, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}
		summary.Records++
		summary.Bytes = s.reader.Consumed()
		s.metrics.RecordDecoded(record.Type())

		value, err := s.classifier.Classify(record)
		switch {
		case errors.Is(err, callschema.ErrSchema):
			summary.Dropped++
			s.metrics.RecordDropped(dropSchema)
			s.logger.Warn("dropping telemetry record", "type", record.Type(), "error", err)
			continue
		case errors.Is(err, ErrStorage):
			summary.Dropped++
			s.metrics.RecordDropped(dropStorage)
			s.logger.Error("storing buffer dump failed", "error", err)
			continue
		case err != nil:
			return summary, err
		case value == nil:
			continue
		}

		if err := s.sink.Emit(ctx, value); err != nil {
			if errors.Is(err, sink.ErrEncoding) {
				summary.Dropped++
				s.metrics.RecordDropped(dropEncoding)
				s.logger.Warn("dropping unencodable event", "kind", value.Kind, "error", err)
				continue
			}
			return summary, fmt.Errorf("emitting %s event: %w", value.Kind, err)
		}
		summary.Events++
		s.metrics.EventEmitted(string(value.Kind))
	}
}
