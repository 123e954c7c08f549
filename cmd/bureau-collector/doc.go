// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-collector receives runtime telemetry from the monitor injected
// into a process under analysis and reconstructs structured execution
// events from it.
//
// # Startup
//
// Configuration comes from the file named by --config or
// BUREAU_COLLECTOR_CONFIG (see lib/config). The collector opens the
// buffer store, the upload root and journal, and, when sink.nats_url is
// set, a NATS connection. It then listens on the configured TCP address
// and, when status_listen is set, serves /metrics and /healthz.
//
// # Connections
//
// Every connection begins with a handshake line naming a command:
//
//   - telemetry-stream: a BSON record stream. Each connection gets its
//     own schema registry and session state; events go to the
//     configured sinks under the connection's session id.
//   - file-upload [VERSION]: a path header (plus origin path and pid
//     list for version 2) followed by the file content until the peer
//     closes. Stored under upload.root and recorded in the journal.
//   - log-stream: recognized and closed.
//
// SIGINT or SIGTERM stops accepting, closes active connections, and
// waits for their handlers to finish.
//
// # Replay
//
// --replay FILE decodes a captured telemetry stream offline through the
// same session engine and writes its events to stdout as JSON lines.
// Replay does not touch the buffer store; buffer dumps are hashed only.
// A config file is optional in this mode.
package main
