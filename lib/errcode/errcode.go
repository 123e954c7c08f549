// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package errcode names the Win32 error and NTSTATUS codes the monitor
// reports alongside API calls. The tables are embedded, parsed on first
// use, and read-only afterwards, so lookups are safe from any number of
// sessions.
package errcode

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
)

//go:embed codes.jsonc
var tableSource []byte

type tables struct {
	win32    map[uint32]string
	ntstatus map[uint32]string
}

var (
	loadOnce  sync.Once
	loaded    *tables
	loadError error
)

func load() (*tables, error) {
	loadOnce.Do(func() {
		loaded, loadError = parse(tableSource)
	})
	return loaded, loadError
}

func parse(source []byte) (*tables, error) {
	var raw struct {
		Win32    map[string]string `json:"win32"`
		NTStatus map[string]string `json:"ntstatus"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(source), &raw); err != nil {
		return nil, fmt.Errorf("parsing error code tables: %w", err)
	}

	win32, err := parseCodes(raw.Win32)
	if err != nil {
		return nil, fmt.Errorf("win32 table: %w", err)
	}
	ntstatus, err := parseCodes(raw.NTStatus)
	if err != nil {
		return nil, fmt.Errorf("ntstatus table: %w", err)
	}
	return &tables{win32: win32, ntstatus: ntstatus}, nil
}

func parseCodes(entries map[string]string) (map[uint32]string, error) {
	codes := make(map[uint32]string, len(entries))
	for key, name := range entries {
		code, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(key), "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("code %q: %w", key, err)
		}
		codes[uint32(code)] = name
	}
	return codes, nil
}

// Win32Name returns the symbolic name of a GetLastError value, or ""
// when the code is not in the table.
func Win32Name(code int64) string {
	t, err := load()
	if err != nil {
		return ""
	}
	return t.win32[uint32(code)]
}

// NTStatusName returns the symbolic name of an NTSTATUS value, or ""
// when the code is not in the table. Negative codes (the monitor sends
// NTSTATUS as a signed 32-bit integer) are reinterpreted as unsigned.
func NTStatusName(code int64) string {
	t, err := load()
	if err != nil {
		return ""
	}
	return t.ntstatus[uint32(code)]
}

// Err reports whether the embedded tables failed to parse. Callers
// normally ignore it; the collector logs it once at startup.
func Err() error {
	_, err := load()
	return err
}
