// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the structured execution events the collector
// reconstructs from a monitored process: process and thread starts,
// API calls, control actions, debug messages, and buffer dumps.
//
// Events are produced by the session classifier and handed straight to
// a sink; the collector keeps no copy.
package event
