// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bufferstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag selects how blobs are encoded on disk. The tag is
// recorded in the blob's file suffix, so a store can hold blobs written
// under different settings.
type CompressionTag uint8

const (
	// CompressionNone stores the buffer bytes verbatim. Downstream
	// tools can open these files directly.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 stores an LZ4 frame. Cheap enough to leave on
	// for high-volume sessions.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd stores a zstd frame at the default level.
	// Memory dumps are mostly zero pages and text, where zstd
	// typically wins by a wide margin.
	CompressionZstd CompressionTag = 2
)

// String returns the configuration name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// suffix is the file name suffix for blobs written with this tag.
func (tag CompressionTag) suffix() string {
	switch tag {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompressionTag parses a tag from its configuration name. The
// empty string selects CompressionNone.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use; every
// session shares these two.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bufferstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bufferstore: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when the encoded form is not smaller
// than the input. The caller stores the blob uncompressed instead.
var errIncompressible = fmt.Errorf("data is incompressible")

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	var compressed []byte
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buffer.Bytes()
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompress(stored []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return stored, nil
	case CompressionLZ4:
		data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(stored)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return data, nil
	case CompressionZstd:
		data, err := zstdDecoder.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
