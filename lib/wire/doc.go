// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire reads the telemetry stream produced by the in-guest
// monitor. The stream is a sequence of BSON documents; each document
// begins with its own 4-byte little-endian length, which doubles as
// the frame header. [FrameReader] pulls one complete document at a
// time and normalizes it into a [Record] whose values are plain Go
// types, so the layers above never import the BSON library.
package wire
