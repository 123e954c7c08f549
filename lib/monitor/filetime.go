// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"strings"
	"time"
)

// filetimeEpochOffset is the number of seconds between 1601-01-01 and
// the Unix epoch.
const filetimeEpochOffset = 11644473600

// FiletimeToTime converts a Windows FILETIME, split into its low and
// high 32-bit halves, to a UTC time. The halves are reinterpreted as
// unsigned; 32-bit monitors send them as signed integers.
func FiletimeToTime(low, high int64) time.Time {
	ticks := uint64(uint32(high))<<32 | uint64(uint32(low))
	seconds := int64(ticks/10_000_000) - filetimeEpochOffset
	nanoseconds := int64(ticks%10_000_000) * 100
	return time.Unix(seconds, nanoseconds).UTC()
}

// ProcessName returns the file name component of a module path, which
// may use Windows or POSIX separators. A trailing separator is ignored,
// so a directory path yields the directory name.
func ProcessName(path string) string {
	trimmed := strings.TrimRight(path, `\/`)
	if index := strings.LastIndexAny(trimmed, `\/`); index >= 0 {
		return trimmed[index+1:]
	}
	// "C:notepad.exe" is drive-relative.
	if len(trimmed) >= 2 && trimmed[1] == ':' {
		return trimmed[2:]
	}
	return trimmed
}
