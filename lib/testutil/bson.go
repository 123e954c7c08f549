// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
)

// BSONStream marshals each document and concatenates the results.
// Every BSON document carries its own length prefix, so the output is
// a valid telemetry stream.
//
//	stream := testutil.BSONStream(t, bson.D{{Key: "type", Value: "debug"}, {Key: "msg", Value: "hi"}})
func BSONStream(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, documents ...bson.D) []byte {
	t.Helper()
	var stream []byte
	for index, document := range documents {
		data, err := bson.Marshal(document)
		if err != nil {
			t.Fatalf("marshaling document %d: %v", index, err)
		}
		stream = append(stream, data...)
	}
	return stream
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
