// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bureau-foundation/collector/lib/schema/event"
)

// JSONSink writes one JSON object per line to a writer it does not
// own. Close flushes but does not close the writer.
type JSONSink struct {
	buffer  *bufio.Writer
	encoder *json.Encoder
}

func NewJSONSink(writer io.Writer) *JSONSink {
	buffer := bufio.NewWriter(writer)
	return &JSONSink{buffer: buffer, encoder: json.NewEncoder(buffer)}
}

func (s *JSONSink) Emit(_ context.Context, value *event.Event) error {
	if err := s.encoder.Encode(value); err != nil {
		return fmt.Errorf("%w: %s event: %w", ErrEncoding, value.Kind, err)
	}
	return nil
}

func (s *JSONSink) Close() error {
	return s.buffer.Flush()
}
