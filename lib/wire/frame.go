// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// DefaultMaxFrameSize is the largest frame the reader accepts unless
// configured otherwise. It matches the limit the in-guest monitor has
// always been held to (2000 MiB).
const DefaultMaxFrameSize = 2000 * 1024 * 1024

// minFrameSize is the smallest well-formed BSON document: the length
// prefix plus the trailing NUL.
const minFrameSize = 5

// initialFrameBuffer caps the up-front allocation for a frame body.
const initialFrameBuffer = 64 * 1024

// ErrFraming reports that the stream can no longer be parsed: the
// length prefix was truncated or out of range, the payload was cut
// short, or the payload did not decode. The connection must be torn
// down; there is no way to resynchronize a length-prefixed stream.
var ErrFraming = errors.New("framing error")

// FrameReader pulls one length-prefixed record at a time off a byte
// stream. It holds no buffered data between records: each call to Next
// reads exactly one frame.
type FrameReader struct {
	reader       io.Reader
	maxFrameSize uint32
	consumed     int64
}

// NewFrameReader returns a reader over r. A maxFrameSize of zero
// selects DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxFrameSize uint32) *FrameReader {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameReader{reader: r, maxFrameSize: maxFrameSize}
}

// Consumed returns the total number of bytes read by successful calls
// to Next.
func (f *FrameReader) Consumed() int64 {
	return f.consumed
}

// Next reads and decodes the next record.
//
// Returns io.EOF when the stream ends cleanly on a record boundary.
// Errors wrapping ErrFraming mean the stream is unusable. Any other
// error is a transport failure from the underlying reader (reset,
// closed socket) and also ends the stream.
func (f *FrameReader) Next() (Record, error) {
	var prefix [4]byte
	read, err := io.ReadFull(f.reader, prefix[:])
	if err != nil {
		if read == 0 && errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("%w: stream closed inside length prefix (%d of 4 bytes)", ErrFraming, read)
		}
		return Record{}, fmt.Errorf("reading frame length: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length < minFrameSize {
		return Record{}, fmt.Errorf("%w: frame length %d below minimum %d", ErrFraming, length, minFrameSize)
	}
	if length > f.maxFrameSize {
		return Record{}, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrFraming, length, f.maxFrameSize)
	}

	// The body buffer grows with the bytes that actually arrive, so a
	// prefix alone never commits the declared length in memory.
	var frame bytes.Buffer
	frame.Grow(min(int(length), initialFrameBuffer))
	frame.Write(prefix[:])
	body := int64(length) - int64(len(prefix))
	copied, err := io.CopyN(&frame, f.reader, body)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("%w: stream closed after %d of %d frame bytes", ErrFraming, copied+int64(len(prefix)), length)
		}
		return Record{}, fmt.Errorf("reading frame body: %w", err)
	}

	fields, err := decodeDocument(bson.Raw(frame.Bytes()))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrFraming, err)
	}

	f.consumed += int64(length)
	return Record{Fields: fields, Size: int(length)}, nil
}
