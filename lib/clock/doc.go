// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall clock.
//
// Components that stamp records or compute deadlines take a Clock
// instead of calling time.Now directly. Production code passes Real();
// tests pass Fake() and move time explicitly, so journal timestamps and
// handshake deadlines are deterministic.
package clock
