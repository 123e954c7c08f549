// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink delivers a session's structured events to their
// destinations: a per-session CBOR journal on disk, a NATS subject
// hierarchy, or both.
//
// A Sink is owned by one session goroutine and receives that session's
// events in wire order. Implementations need not be safe for
// concurrent use unless documented otherwise.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/collector/lib/schema/event"
)

// ErrEncoding reports an event the sink could not serialize. Nothing
// was delivered for it, and the sink remains usable.
var ErrEncoding = errors.New("event not encodable")

// Sink receives events for one session.
type Sink interface {
	// Emit delivers one event. An error wrapping ErrEncoding drops
	// that event; any other error ends the session.
	Emit(ctx context.Context, value *event.Event) error

	// Close flushes buffered events and releases resources. Emit must
	// not be called after Close.
	Close() error
}

// Config selects the destinations opened for each session.
type Config struct {
	// Directory, when set, receives one <session-id>.cbor journal per
	// session.
	Directory string

	// Publisher, when set, receives every event as JSON on
	// <SubjectPrefix>.<kind>.
	Publisher     Publisher
	SubjectPrefix string
}

// Open returns the sink for a new session. With no destination
// configured, events are discarded.
func (c Config) Open(sessionID string) (Sink, error) {
	var sinks []Sink
	if c.Directory != "" {
		file, err := NewFileSink(c.Directory, sessionID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, file)
	}
	if c.Publisher != nil {
		sinks = append(sinks, NewNATSSink(c.Publisher, c.SubjectPrefix, sessionID))
	}
	switch len(sinks) {
	case 0:
		return Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return Multi(sinks), nil
	}
}

// Multi fans every event out to each sink in order.
type Multi []Sink

// Emit delivers value to every sink, even after one fails, and joins
// the errors.
func (m Multi) Emit(ctx context.Context, value *event.Event) error {
	var errs []error
	for index, sink := range m {
		if err := sink.Emit(ctx, value); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", index, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the errors.
func (m Multi) Close() error {
	var errs []error
	for index, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", index, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, *event.Event) error { return nil }
func (Discard) Close() error                             { return nil }
