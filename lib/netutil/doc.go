// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides socket helpers shared by the collector's
// protocol handlers.
//
// [Listen] opens the TCP listener and applies socket options that
// accepted connections inherit. [ReadLine] reads one newline-terminated
// protocol line with a hard length bound, so a peer that never sends a
// newline cannot grow the buffer without limit. [IsExpectedCloseError]
// classifies the errors produced by ordinary peer disconnects.
package netutil
