// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"runtime"
	"strings"
	"testing"
	"testing/iotest"

	"go.mongodb.org/mongo-driver/bson"
)

func mustMarshal(t *testing.T, document bson.D) []byte {
	t.Helper()
	data, err := bson.Marshal(document)
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	return data
}

func TestFrameRoundtripConsumesWholeStream(t *testing.T) {
	var stream bytes.Buffer
	documents := []bson.D{
		{{Key: "type", Value: "info"}, {Key: "I", Value: 1}, {Key: "name", Value: "NtCreateFile"}},
		{{Key: "I", Value: 1}, {Key: "T", Value: 404}, {Key: "args", Value: bson.A{1, "x"}}},
		{{Key: "type", Value: "debug"}, {Key: "msg", Value: "hello"}},
	}
	for _, document := range documents {
		stream.Write(mustMarshal(t, document))
	}
	total := int64(stream.Len())

	reader := NewFrameReader(&stream, 0)
	var sizes int64
	for i := range documents {
		record, err := reader.Next()
		if err != nil {
			t.Fatalf("Next record %d: %v", i, err)
		}
		sizes += int64(record.Size)
	}

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after last record: got %v, want io.EOF", err)
	}
	if sizes != total {
		t.Errorf("sum of record sizes = %d, stream length = %d", sizes, total)
	}
	if reader.Consumed() != total {
		t.Errorf("Consumed() = %d, stream length = %d", reader.Consumed(), total)
	}
}

func TestFrameEmptyStreamIsEOF(t *testing.T) {
	reader := NewFrameReader(bytes.NewReader(nil), 0)
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestFrameErrors(t *testing.T) {
	valid := mustMarshal(t, bson.D{{Key: "type", Value: "debug"}})

	oversized := make([]byte, 4)
	binary.LittleEndian.PutUint32(oversized, 1<<20)

	undersized := []byte{3, 0, 0, 0}

	// Declared length 10, but the body is not a terminated document.
	garbage := []byte{10, 0, 0, 0, 0x02, 'a', 0, 0xff, 0xff, 0xff}

	tests := []struct {
		name   string
		stream []byte
	}{
		{"truncated prefix", []byte{0x10, 0x00}},
		{"oversized length", oversized},
		{"undersized length", undersized},
		{"truncated body", valid[:len(valid)-3]},
		{"undecodable body", garbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewFrameReader(bytes.NewReader(tt.stream), 1024)
			_, err := reader.Next()
			if !errors.Is(err, ErrFraming) {
				t.Fatalf("got %v, want ErrFraming", err)
			}
		})
	}
}

func TestFramePrefixOnlyDoesNotReserveDeclaredLength(t *testing.T) {
	const declared = 1500 << 20
	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, declared)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := NewFrameReader(bytes.NewReader(prefix), 0).Next()
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrFraming) {
		t.Fatalf("got %v, want ErrFraming", err)
	}
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 16<<20 {
		t.Errorf("allocated %d bytes for a %d-byte stream", allocated, len(prefix))
	}
}

func TestFrameBodyArrivingInPieces(t *testing.T) {
	data := mustMarshal(t, bson.D{{Key: "type", Value: "debug"}, {Key: "msg", Value: strings.Repeat("m", 200000)}})

	record, err := NewFrameReader(iotest.OneByteReader(bytes.NewReader(data)), 0).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if record.Size != len(data) {
		t.Errorf("Size = %d, want %d", record.Size, len(data))
	}
	if got := record.String("msg", ""); len(got) != 200000 {
		t.Errorf("msg length = %d", len(got))
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestFrameTransportErrorIsNotFraming(t *testing.T) {
	reset := errors.New("connection reset by peer")
	reader := NewFrameReader(failingReader{err: reset}, 0)

	_, err := reader.Next()
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrFraming) {
		t.Errorf("transport failure reported as framing error: %v", err)
	}
	if !errors.Is(err, reset) {
		t.Errorf("error %v does not wrap the transport error", err)
	}
}

func TestRecordValueNormalization(t *testing.T) {
	data := mustMarshal(t, bson.D{
		{Key: "I", Value: int32(7)},
		{Key: "h", Value: int64(1) << 40},
		{Key: "buffer", Value: []byte{0x00, 0xff}},
		{Key: "args", Value: bson.A{"a", int32(-1), bson.A{int32(1)}}},
		{Key: "flags_value", Value: bson.D{{Key: "Mode", Value: bson.A{}}}},
		{Key: "nothing", Value: nil},
	})

	record, err := NewFrameReader(bytes.NewReader(data), 0).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if got := record.Int("I", -1); got != 7 {
		t.Errorf("I = %d, want 7", got)
	}
	if got := record.Int("h", 0); got != 1<<40 {
		t.Errorf("h = %d, want %d", got, int64(1)<<40)
	}
	if got := record.Int("missing", -1); got != -1 {
		t.Errorf("missing int = %d, want fallback -1", got)
	}
	if got := record.Type(); got != "none" {
		t.Errorf("Type() = %q, want none", got)
	}

	buffer, ok := record.Bytes("buffer")
	if !ok || !bytes.Equal(buffer, []byte{0x00, 0xff}) {
		t.Errorf("buffer = %v (ok=%v)", buffer, ok)
	}

	args, ok := record.List("args")
	if !ok || len(args) != 3 {
		t.Fatalf("args = %v (ok=%v)", args, ok)
	}
	if args[1] != int64(-1) {
		t.Errorf("args[1] = %#v, want int64(-1)", args[1])
	}
	if nested, ok := args[2].([]any); !ok || len(nested) != 1 || nested[0] != int64(1) {
		t.Errorf("args[2] = %#v", args[2])
	}

	if _, ok := record.Document("flags_value"); !ok {
		t.Error("flags_value not decoded as a document")
	}
	if value, ok := record.Get("nothing"); !ok || value != nil {
		t.Errorf("nothing = %#v (ok=%v), want present nil", value, ok)
	}
}

func TestRecordNonFiniteDoublesBecomeText(t *testing.T) {
	data := mustMarshal(t, bson.D{
		{Key: "args", Value: bson.A{math.NaN(), math.Inf(1), math.Inf(-1), 2.5}},
	})

	record, err := NewFrameReader(bytes.NewReader(data), 0).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	args, ok := record.List("args")
	if !ok || len(args) != 4 {
		t.Fatalf("args = %v (ok=%v)", args, ok)
	}
	want := []any{"NaN", "+Inf", "-Inf", 2.5}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %#v, want %#v", i, args[i], want[i])
		}
	}
}
