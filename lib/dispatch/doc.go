// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch accepts analyzer connections and routes each one to
// a protocol handler by its handshake line.
//
// The first line a client sends names the protocol and, optionally, a
// protocol version:
//
//	telemetry-stream 2\n
//	file-upload\n
//
// The rest of the connection belongs to the handler registered for the
// command. Every connection gets its own goroutine, a random session
// id, and a logger carrying both. A handler panic is recovered and
// logged; it never takes down the server or other connections.
package dispatch
