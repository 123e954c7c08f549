// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the collector's CBOR encoding configuration.
//
// The collector writes two serialization formats:
//
//   - JSON for interfaces other tools consume line by line: the upload
//     journal and events published on NATS.
//   - CBOR for the per-session event journal, a CBOR sequence (RFC
//     8742) of events written in wire order.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Replaying the same capture produces a byte-identical journal, which
// is what the replay regression tests compare.
//
// Event types carry only `json` struct tags. fxamacker/cbor falls back
// to them when `cbor` tags are absent, so both formats use the same
// field names.
//
// For streams:
//
//	encoder := codec.NewEncoder(file)
//	err := codec.DecodeSequence(file, func(value *event.Event) error { ... })
package codec
