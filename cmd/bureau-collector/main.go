// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/collector/lib/config"
	"github.com/bureau-foundation/collector/lib/process"
	"github.com/bureau-foundation/collector/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		configPath  string
		listen      string
		replayPath  string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("bureau-collector", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "path to the collector config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&listen, "listen", "", "override the configured listen address")
	flagSet.StringVar(&replayPath, "replay", "", "decode a captured telemetry stream and print its events as JSON lines")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	if showVersion {
		fmt.Fprintf(stdout, "bureau-collector %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath, replayPath != "")
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if replayPath != "" {
		_, err := replay(ctx, replayPath, cfg.Telemetry.MaxFrameSize, stdout, logger)
		return err
	}
	return serve(ctx, cfg, logger)
}

// loadConfig reads --config, then BUREAU_COLLECTOR_CONFIG. Only replay
// may run without either.
func loadConfig(path string, optional bool) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvironmentVariable) == "" && optional {
		return config.Default(), nil
	}
	return config.Load()
}

func newLogger(output io.Writer, logConfig config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logConfig.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	switch logConfig.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(output, options)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(output, options)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", logConfig.Format)
	}
}
