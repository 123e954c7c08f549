// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bureau-foundation/collector/lib/bufferstore"
	"github.com/bureau-foundation/collector/lib/config"
	"github.com/bureau-foundation/collector/lib/dispatch"
	"github.com/bureau-foundation/collector/lib/metrics"
	"github.com/bureau-foundation/collector/lib/monitor"
	"github.com/bureau-foundation/collector/lib/netutil"
	"github.com/bureau-foundation/collector/lib/sink"
	"github.com/bureau-foundation/collector/lib/upload"
	"github.com/bureau-foundation/collector/lib/version"
)

// Collector holds the state shared by every connection: the buffer
// store, the upload receiver, and the sink configuration. Per-session
// state lives in the monitor.Session each telemetry connection creates.
type Collector struct {
	buffers      *bufferstore.Store
	receiver     *upload.Receiver
	sinks        sink.Config
	maxFrameSize uint32
	metrics      *metrics.Metrics
}

// Register installs the collector's command handlers on server.
func (c *Collector) Register(server *dispatch.Server) {
	server.Handle(dispatch.CommandTelemetry, c.handleTelemetry)
	server.Handle(dispatch.CommandUpload, c.handleUpload)
}

func (c *Collector) handleTelemetry(ctx context.Context, conn *dispatch.Conn) error {
	output, err := c.sinks.Open(conn.ID)
	if err != nil {
		return fmt.Errorf("opening event sink: %w", err)
	}

	var buffers monitor.BufferStore
	if c.buffers != nil {
		buffers = c.buffers
	}
	session := monitor.NewSession(conn.Reader, monitor.SessionConfig{
		MaxFrameSize: c.maxFrameSize,
		Buffers:      buffers,
		Sink:         output,
		Metrics:      c.metrics,
		Logger:       conn.Logger,
	})

	summary, runErr := session.Run(ctx)
	closeErr := output.Close()

	conn.Logger.Info("telemetry session ended",
		"records", summary.Records,
		"events", summary.Events,
		"dropped", summary.Dropped,
		"bytes", summary.Bytes,
	)
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing event sink: %w", closeErr)
	}
	return nil
}

func (c *Collector) handleUpload(ctx context.Context, conn *dispatch.Conn) error {
	result, err := c.receiver.Receive(ctx, conn.Reader, conn.Version)
	switch {
	case errors.Is(err, upload.ErrUnsafePath), errors.Is(err, upload.ErrProtocol):
		c.metrics.Upload(metrics.UploadRejected, 0)
		return err
	case err != nil:
		c.metrics.Upload(metrics.UploadFailed, 0)
		return err
	case result.Truncated:
		c.metrics.Upload(metrics.UploadTruncated, result.Size)
	default:
		c.metrics.Upload(metrics.UploadComplete, result.Size)
	}
	return nil
}

// newServer builds the collector and its dispatch server from cfg.
// publisher may be nil.
func newServer(cfg *config.Config, registerer prometheus.Registerer, publisher sink.Publisher, logger *slog.Logger) (*dispatch.Server, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	collectorMetrics := metrics.New(registerer)

	compression, err := bufferstore.ParseCompressionTag(cfg.Telemetry.BufferCompression)
	if err != nil {
		return nil, err
	}
	buffers, err := bufferstore.New(bufferstore.Config{
		Root:         cfg.Telemetry.BufferRoot,
		Compression:  compression,
		CacheEntries: cfg.Telemetry.BufferCacheEntries,
		Logger:       logger.With("component", "bufferstore"),
	})
	if err != nil {
		return nil, fmt.Errorf("opening buffer store: %w", err)
	}

	journal, err := upload.OpenJournal(cfg.Upload.Journal)
	if err != nil {
		return nil, err
	}
	receiver, err := upload.NewReceiver(upload.Config{
		Root:    cfg.Upload.Root,
		MaxSize: cfg.Upload.MaxSize,
		Journal: journal,
		Logger:  logger.With("component", "upload"),
	})
	if err != nil {
		return nil, err
	}

	handshakeTimeout, err := cfg.HandshakeTimeout()
	if err != nil {
		return nil, err
	}
	server := dispatch.NewServer(dispatch.Config{
		HandshakeTimeout: handshakeTimeout,
		MaxHandshakeLine: cfg.Handshake.MaxLine,
		Aliases:          cfg.Handshake.Aliases,
		Metrics:          collectorMetrics,
		Logger:           logger,
	})

	collector := &Collector{
		buffers:  buffers,
		receiver: receiver,
		sinks: sink.Config{
			Directory:     cfg.Sink.Directory,
			Publisher:     publisher,
			SubjectPrefix: cfg.Sink.NATSSubjectPrefix,
		},
		maxFrameSize: uint32(cfg.Telemetry.MaxFrameSize),
		metrics:      collectorMetrics,
	}
	collector.Register(server)
	return server, nil
}

// serve runs the collector until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var publisher sink.Publisher
	if cfg.Sink.NATSURL != "" {
		connection, err := connectNATS(cfg.Sink.NATSURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := connection.Drain(); err != nil {
				logger.Warn("draining nats connection", "error", err)
			}
		}()
		publisher = connection
	}

	server, err := newServer(cfg, registry, publisher, logger)
	if err != nil {
		return err
	}

	listener, err := netutil.Listen(ctx, "tcp", cfg.Listen, cfg.ReceiveBuffer)
	if err != nil {
		return err
	}

	// An accept failure ends Serve without a signal; cancel so the
	// status endpoint stops too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusDone := make(chan error, 1)
	if cfg.StatusListen != "" {
		statusListener, err := net.Listen("tcp", cfg.StatusListen)
		if err != nil {
			listener.Close()
			return fmt.Errorf("listening on %s: %w", cfg.StatusListen, err)
		}
		go func() {
			statusDone <- metrics.Serve(ctx, statusListener, registry, logger)
		}()
	} else {
		statusDone <- nil
	}

	logger.Info("collector running",
		"version", version.Info(),
		"environment", cfg.Environment,
	)

	serveErr := server.Serve(ctx, listener)
	logger.Info("shutting down")
	cancel()

	if err := <-statusDone; err != nil {
		logger.Error("status endpoint error", "error", err)
	}
	return serveErr
}

func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	connection, err := nats.Connect(url,
		nats.Name("bureau-collector"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(connection *nats.Conn) {
			logger.Info("nats reconnected", "url", connection.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return connection, nil
}
