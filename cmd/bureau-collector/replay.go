// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/collector/lib/monitor"
	"github.com/bureau-foundation/collector/lib/sink"
)

// replay runs a captured telemetry stream through a session and writes
// its events to output as JSON lines.
func replay(ctx context.Context, path string, maxFrameSize int, output io.Writer, logger *slog.Logger) (monitor.Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return monitor.Summary{}, err
	}
	defer file.Close()

	events := sink.NewJSONSink(output)
	session := monitor.NewSession(bufio.NewReaderSize(file, 64*1024), monitor.SessionConfig{
		MaxFrameSize: uint32(maxFrameSize),
		Sink:         events,
		Logger:       logger.With("replay", path),
	})

	summary, runErr := session.Run(ctx)
	closeErr := events.Close()
	if runErr != nil {
		return summary, fmt.Errorf("replaying %s: %w", path, runErr)
	}
	if closeErr != nil {
		return summary, fmt.Errorf("writing events: %w", closeErr)
	}

	logger.Info("replay finished",
		"path", path,
		"records", summary.Records,
		"events", summary.Events,
		"dropped", summary.Dropped,
	)
	return summary, nil
}
