// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/collector/lib/clock"
	"github.com/bureau-foundation/collector/lib/netutil"
)

const (
	// DefaultMaxSize is the per-file content limit when the
	// configuration does not set one: 128 MiB.
	DefaultMaxSize int64 = 128 << 20

	// DefaultMaxLine bounds each header line.
	DefaultMaxLine = 4096
)

// TruncationMarker is appended to a file whose content reached the
// size limit.
const TruncationMarker = "... (truncated)"

// ErrProtocol is returned for a malformed header: a missing or
// overlong line, or a pid list entry that is not an integer.
var ErrProtocol = errors.New("upload protocol error")

// Header is the parsed upload header.
type Header struct {
	// Path is the normalized relative path the file is stored under.
	Path string

	// FilePath is the origin path on the analyzed machine, nil for
	// version 1 uploads.
	FilePath *string

	PIDs []int64
}

// Result describes a stored upload.
type Result struct {
	Header

	// StoredPath is the absolute path of the written file.
	StoredPath string

	Size      int64
	Truncated bool

	// BLAKE3 is the hex digest of the stored bytes.
	BLAKE3 string
}

// Config holds the parameters for a Receiver.
type Config struct {
	Root    string
	MaxSize int64
	MaxLine int

	Journal *Journal
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Receiver stores uploads under a root directory. It is safe for
// concurrent use; each Receive call handles one connection.
type Receiver struct {
	root    string
	maxSize int64
	maxLine int
	journal *Journal
	clock   clock.Clock
	logger  *slog.Logger
}

// NewReceiver validates config and creates the upload root.
func NewReceiver(config Config) (*Receiver, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("upload root is required")
	}
	if config.Journal == nil {
		return nil, fmt.Errorf("upload journal is required")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving upload root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload root: %w", err)
	}

	receiver := &Receiver{
		root:    root,
		maxSize: config.MaxSize,
		maxLine: config.MaxLine,
		journal: config.Journal,
		clock:   config.Clock,
		logger:  config.Logger,
	}
	if receiver.maxSize <= 0 {
		receiver.maxSize = DefaultMaxSize
	}
	if receiver.maxLine <= 0 {
		receiver.maxLine = DefaultMaxLine
	}
	if receiver.clock == nil {
		receiver.clock = clock.Real()
	}
	if receiver.logger == nil {
		receiver.logger = slog.Default()
	}
	return receiver, nil
}

// Root returns the absolute upload root.
func (r *Receiver) Root() string {
	return r.root
}

// ReadHeader reads the upload header for the given protocol version.
func ReadHeader(reader *bufio.Reader, version, maxLine int) (Header, error) {
	pathLine, err := readHeaderLine(reader, maxLine, "path")
	if err != nil {
		return Header{}, err
	}
	header := Header{Path: NormalizePath(pathLine)}
	if version < 2 {
		return header, nil
	}

	originLine, err := readHeaderLine(reader, maxLine, "origin path")
	if err != nil {
		return Header{}, err
	}
	origin := strings.TrimSpace(originLine)
	header.FilePath = &origin

	pidLine, err := readHeaderLine(reader, maxLine, "pid list")
	if err != nil {
		return Header{}, err
	}
	for _, field := range strings.Fields(pidLine) {
		pid, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return Header{}, fmt.Errorf("%w: pid %q is not an integer", ErrProtocol, field)
		}
		header.PIDs = append(header.PIDs, pid)
	}
	return header, nil
}

func readHeaderLine(reader *bufio.Reader, maxLine int, what string) (string, error) {
	line, err := netutil.ReadLine(reader, maxLine)
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, io.EOF):
		return "", fmt.Errorf("%w: connection closed before %s", ErrProtocol, what)
	case errors.Is(err, netutil.ErrLineTooLong):
		return "", fmt.Errorf("%w: %s line exceeds %d bytes", ErrProtocol, what, maxLine)
	default:
		return "", fmt.Errorf("reading %s: %w", what, err)
	}
}

// Receive reads one upload from reader and stores it. On ErrProtocol or
// ErrUnsafePath nothing has been written. A read failure during the
// content removes the partial file and is returned without journaling.
func (r *Receiver) Receive(ctx context.Context, reader *bufio.Reader, version int) (*Result, error) {
	header, err := ReadHeader(reader, version, r.maxLine)
	if err != nil {
		return nil, err
	}
	target, err := ResolvePath(r.root, header.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Every filesystem operation below goes through the root handle,
	// which refuses to leave the upload tree.
	root, err := os.OpenRoot(r.root)
	if err != nil {
		return nil, fmt.Errorf("opening upload root: %w", err)
	}
	defer root.Close()
	relative := filepath.FromSlash(header.Path)
	if err := rejectLinkedDirectories(root, relative); err != nil {
		return nil, err
	}

	if err := root.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	file, err := root.OpenFile(relative, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", header.Path, err)
	}

	hasher := blake3.New()
	destination := io.MultiWriter(file, hasher)

	result := &Result{Header: header, StoredPath: target}
	written, copyErr := io.CopyN(destination, reader, r.maxSize)
	result.Size = written
	switch {
	case copyErr == nil:
		// The limit was reached; whatever follows is discarded.
		result.Truncated = true
		marker, err := io.WriteString(destination, TruncationMarker)
		result.Size += int64(marker)
		if err != nil {
			copyErr = err
		}
		r.logger.Warn("upload exceeded size limit, truncating",
			"path", header.Path,
			"max_size", r.maxSize,
		)
	case errors.Is(copyErr, io.EOF):
		copyErr = nil
	}
	if copyErr != nil {
		file.Close()
		root.Remove(relative)
		return nil, fmt.Errorf("receiving %s: %w", header.Path, copyErr)
	}
	if err := file.Close(); err != nil {
		root.Remove(relative)
		return nil, fmt.Errorf("closing %s: %w", header.Path, err)
	}
	result.BLAKE3 = hex.EncodeToString(hasher.Sum(nil))

	if err := r.journal.Append(Entry{
		Path:       header.Path,
		FilePath:   header.FilePath,
		PIDs:       header.PIDs,
		Size:       result.Size,
		Truncated:  result.Truncated,
		BLAKE3:     result.BLAKE3,
		UploadedAt: r.clock.Now().UTC(),
	}); err != nil {
		return result, err
	}

	r.logger.Info("file upload stored",
		"path", header.Path,
		"size", result.Size,
		"truncated", result.Truncated,
	)
	return result, nil
}
