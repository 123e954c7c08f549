// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/collector/lib/bufferstore"
	"github.com/bureau-foundation/collector/lib/callschema"
	"github.com/bureau-foundation/collector/lib/errcode"
	"github.com/bureau-foundation/collector/lib/metrics"
	"github.com/bureau-foundation/collector/lib/schema/event"
	"github.com/bureau-foundation/collector/lib/wire"
)

// Names the monitor reserves for control calls. Any other schema name
// is a hooked API.
const (
	ProcessCallName = "__process__"
	ThreadCallName  = "__thread__"
	ActionCallName  = "__action__"
)

// Record types with dedicated handling. Every other type value,
// including an absent one, is a call record.
const (
	recordInfo   = "info"
	recordBuffer = "buffer"
	recordDebug  = "debug"
)

// ErrStorage reports a buffer record that could not be persisted. The
// record is dropped; the session continues.
var ErrStorage = errors.New("buffer storage error")

// BufferStore persists buffer dumps. *bufferstore.Store implements it.
type BufferStore interface {
	Store(data []byte, declaredChecksum string) (bufferstore.Result, error)
}

// SessionState is the mutable per-connection state besides the schema
// registry.
type SessionState struct {
	// Is64Bit switches argument materialization to 64-bit converters.
	// Set by a process record and never cleared.
	Is64Bit bool

	// CurrentProcessID is the pid of the last process record, nil
	// until one arrives.
	CurrentProcessID *int64

	// PendingBufferHash is the hash of a buffer dump not yet attached
	// to an API call.
	PendingBufferHash string
}

// ClassifierConfig holds a Classifier's collaborators. All fields are
// optional. Without Buffers, buffer dumps are hashed but not stored.
type ClassifierConfig struct {
	Buffers BufferStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Classifier maps telemetry records to events for one connection. Not
// safe for concurrent use.
type Classifier struct {
	registry *callschema.Registry
	state    SessionState
	buffers  BufferStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewClassifier(config ClassifierConfig) *Classifier {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		registry: callschema.NewRegistry(),
		buffers:  config.Buffers,
		metrics:  config.Metrics,
		logger:   logger,
	}
}

// State returns a snapshot of the session state.
func (c *Classifier) State() SessionState {
	state := c.state
	if state.CurrentProcessID != nil {
		pid := *state.CurrentProcessID
		state.CurrentProcessID = &pid
	}
	return state
}

// Registry returns the connection's schema registry.
func (c *Classifier) Registry() *callschema.Registry {
	return c.registry
}

// Classify applies one record to the session state and returns the
// event it produces, or nil for records that only change state. Errors
// wrapping callschema.ErrSchema or ErrStorage leave the state unchanged
// and drop the record.
func (c *Classifier) Classify(record wire.Record) (*event.Event, error) {
	switch record.Type() {
	case recordInfo:
		index := record.Int("I", -1)
		schema, err := c.registry.Register(index, record)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("registered call schema",
			"index", index,
			"name", schema.Name,
			"arguments", len(schema.Arguments),
		)
		return nil, nil
	case recordBuffer:
		return c.buffer(record)
	case recordDebug:
		return &event.Event{
			Kind:     event.KindDebug,
			ThreadID: record.Int("T", 0),
			Time:     record.Int("t", 0),
			Debug:    &event.Debug{Message: record.String("msg", "")},
		}, nil
	default:
		return c.call(record)
	}
}

func (c *Classifier) buffer(record wire.Record) (*event.Event, error) {
	data, ok := record.Bytes("buffer")
	if !ok {
		return nil, fmt.Errorf("%w: buffer record without buffer field", callschema.ErrSchema)
	}
	declared := record.String("checksum", "")

	var result bufferstore.Result
	if c.buffers != nil {
		var err error
		result, err = c.buffers.Store(data, declared)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	} else {
		hash := bufferstore.HashBuffer(data)
		result = bufferstore.Result{
			Hash:             hash,
			Size:             len(data),
			DeclaredChecksum: declared,
			ChecksumMatch:    bufferstore.ChecksumMatches(declared, hash),
		}
	}
	c.metrics.BufferStored(result.Deduplicated, result.ChecksumMatch)

	c.state.PendingBufferHash = result.Hash
	return &event.Event{
		Kind:     event.KindBuffer,
		ThreadID: record.Int("T", 0),
		Time:     record.Int("t", 0),
		Buffer: &event.BufferDump{
			Hash:             result.Hash,
			Size:             result.Size,
			DeclaredChecksum: result.DeclaredChecksum,
			ChecksumMatch:    result.ChecksumMatch,
		},
	}, nil
}

func (c *Classifier) call(record wire.Record) (*event.Event, error) {
	index := record.Int("I", -1)
	schema, ok := c.registry.Lookup(index)
	if !ok {
		return nil, fmt.Errorf("%w: call record references unregistered index %d", callschema.ErrSchema, index)
	}

	var rawArguments []any
	if record.Has("args") {
		list, ok := record.List("args")
		if !ok {
			return nil, fmt.Errorf("%w: %s: args is not a list", callschema.ErrSchema, schema.Name)
		}
		rawArguments = list
	}
	arguments, err := callschema.Materialize(schema, rawArguments, callschema.WidthFor(c.state.Is64Bit))
	if err != nil {
		return nil, err
	}

	result := &event.Event{
		ThreadID: record.Int("T", 0),
		Time:     record.Int("t", 0),
	}
	switch schema.Name {
	case ProcessCallName:
		process, err := c.processStart(arguments)
		if err != nil {
			return nil, err
		}
		result.Kind = event.KindProcess
		result.Process = process
	case ThreadCallName:
		pid, ok := firstInteger(arguments, "ProcessIdentifier", "process_identifier", "pid")
		if !ok {
			return nil, fmt.Errorf("%w: %s without a process identifier", callschema.ErrSchema, ThreadCallName)
		}
		result.Kind = event.KindThread
		result.Thread = &event.ThreadStart{PID: pid}
	case ActionCallName:
		action, ok := arguments["action"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s without an action", callschema.ErrSchema, ActionCallName)
		}
		result.Kind = event.KindAction
		result.Action = &event.Action{Action: action}
	default:
		result.Kind = event.KindAPICall
		result.APICall = c.apiCall(schema, arguments, record)
	}
	return result, nil
}

func (c *Classifier) processStart(arguments map[string]any) (*event.ProcessStart, error) {
	var names processLayout
	switch {
	case hasKey(arguments, "TimeLow"):
		names = camelCaseLayout
	case hasKey(arguments, "time_low"):
		names = snakeCaseLayout
		if !hasKey(arguments, "pid") {
			names.pid, names.ppid = "process_identifier", "parent_process_identifier"
		}
	default:
		return nil, fmt.Errorf("%w: %s record has no recognized layout", callschema.ErrSchema, ProcessCallName)
	}

	integers := make(map[string]int64, 4)
	for _, name := range []string{names.timeLow, names.timeHigh, names.pid, names.ppid} {
		value, ok := integerArgument(arguments[name])
		if !ok {
			return nil, fmt.Errorf("%w: %s record: %s is missing or not an integer", callschema.ErrSchema, ProcessCallName, name)
		}
		integers[name] = value
	}
	modulePath, ok := arguments[names.modulePath].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s record: %s is missing or not text", callschema.ErrSchema, ProcessCallName, names.modulePath)
	}

	if truthy(arguments["is_64bit"]) {
		c.state.Is64Bit = true
	}
	track := true
	if value, present := arguments["track"]; present {
		track = truthy(value)
	}
	modules, present := arguments["modules"]
	if !present {
		modules = map[string]any{}
	}
	commandLine, _ := arguments["command_line"].(string)

	pid := integers[names.pid]
	c.state.CurrentProcessID = &pid

	return &event.ProcessStart{
		PID:         pid,
		PPID:        integers[names.ppid],
		FirstSeen:   FiletimeToTime(integers[names.timeLow], integers[names.timeHigh]),
		ProcessPath: modulePath,
		ProcessName: ProcessName(modulePath),
		CommandLine: commandLine,
		Is64Bit:     c.state.Is64Bit,
		Track:       track,
		Modules:     modules,
	}, nil
}

type processLayout struct {
	timeLow, timeHigh, pid, ppid, modulePath string
}

var (
	camelCaseLayout = processLayout{
		timeLow:    "TimeLow",
		timeHigh:   "TimeHigh",
		pid:        "ProcessIdentifier",
		ppid:       "ParentProcessIdentifier",
		modulePath: "ModulePath",
	}
	snakeCaseLayout = processLayout{
		timeLow:    "time_low",
		timeHigh:   "time_high",
		pid:        "pid",
		ppid:       "ppid",
		modulePath: "module_path",
	}
)

func (c *Classifier) apiCall(schema *callschema.CallSchema, arguments map[string]any, record wire.Record) *event.APICall {
	call := &event.APICall{
		API:         schema.Name,
		Category:    schema.Category,
		Status:      true,
		ReturnValue: int64(0),
		UniqueHash:  int64(0),
		Stacktrace:  []any{},
	}
	if c.state.CurrentProcessID != nil {
		pid := *c.state.CurrentProcessID
		call.PID = &pid
	}

	if value, present := arguments["is_success"]; present {
		delete(arguments, "is_success")
		call.Status = truthy(value)
	}
	if value, present := arguments["retval"]; present {
		delete(arguments, "retval")
		call.ReturnValue = value
	}
	call.Arguments = arguments

	if c.registry.HasFlags(schema.Name) {
		call.Flags = c.registry.ResolveFlags(schema.Name, arguments)
	} else {
		call.Flags = map[string]string{}
	}

	if stack, ok := record.List("s"); ok {
		call.Stacktrace = stack
	}
	if hash, present := record.Get("h"); present {
		call.UniqueHash = hash
	}

	if record.Has("e") && record.Has("E") {
		lastError := record.Int("e", 0)
		ntStatus := record.Int("E", 0)
		call.LastError = &lastError
		call.NTStatus = &ntStatus
		call.LastErrorName = errcode.Win32Name(lastError)
		call.NTStatusName = errcode.NTStatusName(ntStatus)
	}

	if c.state.PendingBufferHash != "" {
		call.Buffer = c.state.PendingBufferHash
		c.state.PendingBufferHash = ""
	}
	return call
}

func hasKey(arguments map[string]any, key string) bool {
	_, ok := arguments[key]
	return ok
}

// integerArgument accepts materialized integers and pointer-rendered
// hex strings, since an argument's converter tag depends on how the
// monitor declared it.
func integerArgument(value any) (int64, bool) {
	if number, ok := wire.AsInt(value); ok {
		return number, true
	}
	if text, ok := value.(string); ok {
		if ordinal, ok := callschema.Ordinal(text); ok {
			return int64(ordinal), true
		}
	}
	return 0, false
}

func firstInteger(arguments map[string]any, names ...string) (int64, bool) {
	for _, name := range names {
		if value, present := arguments[name]; present {
			return integerArgument(value)
		}
	}
	return 0, false
}

// truthy follows the monitor's loose boolean encoding: integers,
// booleans, and text all appear in the wild.
func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case string:
		return typed != ""
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		return true
	}
}
