// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/collector/lib/codec"
	"github.com/bureau-foundation/collector/lib/schema/event"
)

// FileSink writes a session's events as a CBOR sequence to
// <directory>/<session-id>.cbor.
type FileSink struct {
	path    string
	file    *os.File
	buffer  *bufio.Writer
	encoder *codec.Encoder
}

// NewFileSink creates the journal file for a session. An existing file
// for the same session id is an error.
func NewFileSink(directory, sessionID string) (*FileSink, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating event directory: %w", err)
	}
	path := filepath.Join(directory, sessionID+".cbor")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating event journal: %w", err)
	}
	buffer := bufio.NewWriterSize(file, 64*1024)
	return &FileSink{
		path:    path,
		file:    file,
		buffer:  buffer,
		encoder: codec.NewEncoder(buffer),
	}, nil
}

// Path returns the journal file path.
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Emit(_ context.Context, value *event.Event) error {
	if err := s.encoder.Encode(value); err != nil {
		return fmt.Errorf("writing event to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	flushErr := s.buffer.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", s.path, closeErr)
	}
	return nil
}
