// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor turns the telemetry stream of one in-guest monitor
// into structured events.
//
// The monitor first explains each API it hooks with an "info" record
// carrying the argument names and converter tags, then sends compact
// positional call records that reference the explanation by index. A
// [Classifier] holds that per-connection state (the schema registry,
// the session's pointer width, the process currently being reported,
// and a buffer dump waiting to be attached to the next call) and maps
// each record to at most one [event.Event].
//
// A [Session] drives a Classifier from a [wire.FrameReader] and hands
// the events to a sink in wire order. Schema errors drop one record;
// framing and transport errors end the session.
package monitor
