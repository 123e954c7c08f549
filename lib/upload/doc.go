// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload receives files pushed by the in-guest analyzer over
// the file-upload protocol and stores them under a fixed root.
//
// A connection carries one file. The header is newline-delimited:
//
//	<relative path>          e.g. files/9498687557/libcurl-4.dll.bin
//	<origin path>            version 2 and later
//	<pid> <pid> ...          version 2 and later
//
// followed by the raw file content until the peer closes the
// connection. Backslashes in the relative path are normalized to
// forward slashes. Paths that could escape the root are rejected
// before anything touches the filesystem.
//
// Content beyond the configured maximum is discarded and the stored
// file ends with [TruncationMarker]. Every completed upload, truncated
// or not, gets one line in the [Journal].
package upload
