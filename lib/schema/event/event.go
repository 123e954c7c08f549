// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"time"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindProcess Kind = "process"
	KindThread  Kind = "thread"
	KindAPICall Kind = "apicall"
	KindAction  Kind = "action"
	KindDebug   Kind = "debug"
	KindBuffer  Kind = "buffer"
)

// Event is one structured execution event reconstructed from the
// telemetry stream. Exactly one payload pointer is set, selected by
// Kind. ThreadID and Time are copied from the record's T and t fields.
//
// Types here carry json tags only; the CBOR codec falls back to them,
// so the same names appear in the NATS (JSON) and journal (CBOR)
// encodings.
type Event struct {
	Kind     Kind  `json:"type"`
	ThreadID int64 `json:"tid"`
	Time     int64 `json:"time"`

	Process *ProcessStart `json:"process,omitempty"`
	Thread  *ThreadStart  `json:"thread,omitempty"`
	APICall *APICall      `json:"apicall,omitempty"`
	Action  *Action       `json:"action,omitempty"`
	Debug   *Debug        `json:"debug,omitempty"`
	Buffer  *BufferDump   `json:"buffer,omitempty"`
}

// Validate checks that the payload matches Kind.
func (e *Event) Validate() error {
	var set int
	var payloadKind Kind
	for kind, present := range map[Kind]bool{
		KindProcess: e.Process != nil,
		KindThread:  e.Thread != nil,
		KindAPICall: e.APICall != nil,
		KindAction:  e.Action != nil,
		KindDebug:   e.Debug != nil,
		KindBuffer:  e.Buffer != nil,
	} {
		if present {
			set++
			payloadKind = kind
		}
	}
	if set != 1 {
		return fmt.Errorf("event has %d payloads, want exactly 1", set)
	}
	if payloadKind != e.Kind {
		return fmt.Errorf("event kind %q carries a %q payload", e.Kind, payloadKind)
	}
	return nil
}

// ProcessStart announces a newly monitored process. It also switches
// the session into 64-bit mode when Is64Bit is set.
type ProcessStart struct {
	PID         int64     `json:"pid"`
	PPID        int64     `json:"ppid"`
	FirstSeen   time.Time `json:"first_seen"`
	ProcessPath string    `json:"process_path"`
	ProcessName string    `json:"process_name"`
	CommandLine string    `json:"command_line,omitempty"`
	Is64Bit     bool      `json:"is_64bit"`

	// Track reports whether the analysis should follow this process.
	Track bool `json:"track"`

	// Modules is passed through from the monitor without
	// interpretation.
	Modules any `json:"modules,omitempty"`
}

// ThreadStart announces a new thread in a monitored process.
type ThreadStart struct {
	PID int64 `json:"pid"`
}

// APICall is one intercepted API call.
type APICall struct {
	// PID is the process the session most recently announced. Nil
	// when a call arrives before any process record.
	PID *int64 `json:"pid"`

	API      string `json:"api"`
	Category string `json:"category"`

	// Status is the monitor's success flag for the call.
	Status      bool `json:"status"`
	ReturnValue any  `json:"return_value"`

	Arguments map[string]any    `json:"arguments"`
	Flags     map[string]string `json:"flags"`

	Stacktrace []any `json:"stacktrace"`

	// UniqueHash is the monitor's de-duplication hash for the call
	// site and arguments.
	UniqueHash any `json:"uniqhash"`

	// LastError and NTStatus are only present when the monitor sent
	// both. The names are filled from the error code tables when the
	// code is known.
	LastError     *int64 `json:"last_error,omitempty"`
	NTStatus      *int64 `json:"nt_status,omitempty"`
	LastErrorName string `json:"last_error_name,omitempty"`
	NTStatusName  string `json:"nt_status_name,omitempty"`

	// Buffer is the content hash of the memory buffer dumped
	// immediately before this call, if any.
	Buffer string `json:"buffer,omitempty"`
}

// Action is a control marker from the monitor.
type Action struct {
	Action string `json:"action"`
}

// Debug carries a diagnostic message from the monitor.
type Debug struct {
	Message string `json:"message"`
}

// BufferDump records a memory buffer persisted to the buffer store.
type BufferDump struct {
	Hash             string `json:"hash"`
	Size             int    `json:"size"`
	DeclaredChecksum string `json:"declared_checksum"`

	// ChecksumMatch is false when the monitor's declared checksum
	// disagrees with the computed hash. The buffer is stored under
	// the computed hash either way.
	ChecksumMatch bool `json:"checksum_match"`
}
