// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/collector/lib/schema/event"
)

// SessionHeader carries the session id on every published message.
const SessionHeader = "Collector-Session"

// DefaultSubjectPrefix is used when the configuration leaves the
// subject prefix empty.
const DefaultSubjectPrefix = "collector.events"

// flushTimeout bounds the wait for the server to acknowledge a
// session's messages when the session closes.
const flushTimeout = 5 * time.Second

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	PublishMsg(message *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes each event as JSON on <prefix>.<kind>. The
// connection is shared between sessions and is not closed by Close.
type NATSSink struct {
	publisher Publisher
	prefix    string
	sessionID string
}

func NewNATSSink(publisher Publisher, prefix, sessionID string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{publisher: publisher, prefix: prefix, sessionID: sessionID}
}

// Subject returns the subject events of kind are published on.
func (s *NATSSink) Subject(kind event.Kind) string {
	return s.prefix + "." + string(kind)
}

func (s *NATSSink) Emit(ctx context.Context, value *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s event: %w", ErrEncoding, value.Kind, err)
	}
	message := nats.NewMsg(s.Subject(value.Kind))
	message.Header.Set(SessionHeader, s.sessionID)
	message.Data = data
	if err := s.publisher.PublishMsg(message); err != nil {
		return fmt.Errorf("publishing to %s: %w", message.Subject, err)
	}
	return nil
}

// Close waits for the server to receive everything this session
// published.
func (s *NATSSink) Close() error {
	if err := s.publisher.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flushing session %s events: %w", s.sessionID, err)
	}
	return nil
}
