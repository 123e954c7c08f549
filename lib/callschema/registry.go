// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package callschema

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bureau-foundation/collector/lib/wire"
)

// ErrSchema reports a record that cannot be interpreted against the
// session's schemas: an unregistered index, a malformed info record,
// or an argument count that does not match the registered schema.
// Schema errors are per-record; the stream continues.
var ErrSchema = errors.New("schema error")

// DefaultName is used for info records that omit a name.
const DefaultName = "NONAME"

// ArgumentDescriptor names one positional argument of a call and the
// converter tag used to materialize it. An empty Tag selects the
// default converter.
type ArgumentDescriptor struct {
	Name string
	Tag  string
}

// BitFlag is one entry of a bitmask flag map. The entry matches when
// every bit of Mask is set in the argument value.
type BitFlag struct {
	Mask uint64
	Name string
}

// CallSchema describes the positional arguments of one monitored call.
// Schemas are created from info records and never modified afterwards.
type CallSchema struct {
	Index     int64
	Name      string
	Category  string
	Arguments []ArgumentDescriptor

	// FlagValues maps argument name to exact-value symbolic names.
	FlagValues map[string]map[uint64]string

	// FlagBitmasks maps argument name to bitmask entries in the
	// order the monitor declared them.
	FlagBitmasks map[string][]BitFlag
}

// HasFlags reports whether the schema declared any flag map.
func (s *CallSchema) HasFlags() bool {
	return len(s.FlagValues) > 0 || len(s.FlagBitmasks) > 0
}

// Registry is the per-connection table of call schemas. It is owned by
// a single session goroutine and is not safe for concurrent use.
type Registry struct {
	byIndex map[int64]*CallSchema

	// byName holds the schema whose flag maps apply to a call name.
	// Flag resolution is keyed by name rather than index, so the most
	// recent registration of a name wins.
	byName map[string]*CallSchema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[int64]*CallSchema),
		byName:  make(map[string]*CallSchema),
	}
}

// Len returns the number of registered indexes.
func (r *Registry) Len() int {
	return len(r.byIndex)
}

// Lookup returns the schema registered at index.
func (r *Registry) Lookup(index int64) (*CallSchema, bool) {
	schema, ok := r.byIndex[index]
	return schema, ok
}

// Register parses an info record and stores the resulting schema at
// index, replacing any earlier definition.
func (r *Registry) Register(index int64, record wire.Record) (*CallSchema, error) {
	schema := &CallSchema{
		Index:    index,
		Name:     record.String("name", DefaultName),
		Category: record.String("category", ""),
	}

	if rawArguments, present := record.Get("args"); present && rawArguments != nil {
		list, ok := rawArguments.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: info record %d: args is %T, want list", ErrSchema, index, rawArguments)
		}
		arguments, err := parseDescriptors(list)
		if err != nil {
			return nil, fmt.Errorf("%w: info record %d (%s): %v", ErrSchema, index, schema.Name, err)
		}
		schema.Arguments = arguments
	}

	if document, ok := record.Document("flags_value"); ok && len(document) > 0 {
		values, err := parseValueFlags(document)
		if err != nil {
			return nil, fmt.Errorf("%w: info record %d (%s): flags_value: %v", ErrSchema, index, schema.Name, err)
		}
		schema.FlagValues = values
	}

	if document, ok := record.Document("flags_bitmask"); ok && len(document) > 0 {
		bitmasks, err := parseBitmaskFlags(document)
		if err != nil {
			return nil, fmt.Errorf("%w: info record %d (%s): flags_bitmask: %v", ErrSchema, index, schema.Name, err)
		}
		schema.FlagBitmasks = bitmasks
	}

	r.byIndex[index] = schema
	if schema.HasFlags() {
		r.byName[schema.Name] = schema
	}
	return schema, nil
}

// parseDescriptors accepts bare names and [name, tag] pairs.
func parseDescriptors(list []any) ([]ArgumentDescriptor, error) {
	descriptors := make([]ArgumentDescriptor, 0, len(list))
	for position, entry := range list {
		switch value := entry.(type) {
		case string:
			descriptors = append(descriptors, ArgumentDescriptor{Name: value})
		case []byte:
			descriptors = append(descriptors, ArgumentDescriptor{Name: string(value)})
		case []any:
			if len(value) != 2 {
				return nil, fmt.Errorf("argument %d: descriptor has %d elements, want 2", position, len(value))
			}
			name, nameOK := textValue(value[0])
			tag, tagOK := textValue(value[1])
			if !nameOK || (!tagOK && value[1] != nil) {
				return nil, fmt.Errorf("argument %d: descriptor is not [name, tag]", position)
			}
			descriptors = append(descriptors, ArgumentDescriptor{Name: name, Tag: tag})
		default:
			return nil, fmt.Errorf("argument %d: unexpected descriptor type %T", position, entry)
		}
	}
	return descriptors, nil
}

// parseValueFlags accepts, per argument, either a list of [value, name]
// pairs or a document whose keys are values in Go integer literal
// syntax ("2", "0x80").
func parseValueFlags(document map[string]any) (map[string]map[uint64]string, error) {
	result := make(map[string]map[uint64]string, len(document))
	for argument, raw := range document {
		values := make(map[uint64]string)
		switch entries := raw.(type) {
		case []any:
			for position, entry := range entries {
				key, name, err := parsePair(entry)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %v", argument, position, err)
				}
				values[key] = name
			}
		case map[string]any:
			for keyText, rawName := range entries {
				key, err := strconv.ParseUint(keyText, 0, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: key %q is not a number", argument, keyText)
				}
				name, ok := textValue(rawName)
				if !ok {
					return nil, fmt.Errorf("%s: name for %q is %T", argument, keyText, rawName)
				}
				values[key] = name
			}
		default:
			return nil, fmt.Errorf("%s: unexpected type %T", argument, raw)
		}
		result[argument] = values
	}
	return result, nil
}

func parseBitmaskFlags(document map[string]any) (map[string][]BitFlag, error) {
	result := make(map[string][]BitFlag, len(document))
	for argument, raw := range document {
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected type %T", argument, raw)
		}
		flags := make([]BitFlag, 0, len(entries))
		for position, entry := range entries {
			mask, name, err := parsePair(entry)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %v", argument, position, err)
			}
			flags = append(flags, BitFlag{Mask: mask, Name: name})
		}
		result[argument] = flags
	}
	return result, nil
}

func parsePair(entry any) (uint64, string, error) {
	pair, ok := entry.([]any)
	if !ok || len(pair) != 2 {
		return 0, "", fmt.Errorf("entry is not a [value, name] pair")
	}
	key, ok := Ordinal(pair[0])
	if !ok {
		return 0, "", fmt.Errorf("value %v is not a number", pair[0])
	}
	name, ok := textValue(pair[1])
	if !ok {
		return 0, "", fmt.Errorf("name is %T, want text", pair[1])
	}
	return key, name, nil
}

func textValue(value any) (string, bool) {
	switch text := value.(type) {
	case string:
		return text, true
	case []byte:
		return string(text), true
	default:
		return "", false
	}
}

// Ordinal coerces an argument value to the unsigned integer used for
// flag lookups. Integers are reinterpreted as unsigned. Strings are
// always hexadecimal, with or without a 0x prefix, since text-valued
// flag arguments are pointer-rendered.
func Ordinal(value any) (uint64, bool) {
	switch typed := value.(type) {
	case int64:
		return uint64(typed), true
	case float64:
		return uint64(int64(typed)), true
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	case string:
		return parseHex(typed)
	case []byte:
		return parseHex(string(typed))
	default:
		return 0, false
	}
}

func parseHex(text string) (uint64, bool) {
	if len(text) > 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		text = text[2:]
	}
	if text == "" {
		return 0, false
	}
	number, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
