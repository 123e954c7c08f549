// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package callschema

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Width is the pointer width of the monitored process.
type Width int

const (
	Width32 Width = 32
	Width64 Width = 64
)

// WidthFor maps the session's 64-bit flag to a Width.
func WidthFor(is64Bit bool) Width {
	if is64Bit {
		return Width64
	}
	return Width32
}

// Converter turns one raw record value into its materialized form.
type Converter func(value any) any

// converters is the full tag × width table. Tags not listed here use
// the "" (default) entry. "x" renders 8 hex digits at both widths.
var converters = map[Width]map[string]Converter{
	Width32: {
		"":  defaultConverter32,
		"p": pointerConverter32,
		"x": pointerConverter32,
	},
	Width64: {
		"":  defaultConverter64,
		"p": pointerConverter64,
		"x": pointerConverter32,
	},
}

// ConverterFor selects the converter for a descriptor tag at the given
// width.
func ConverterFor(tag string, width Width) Converter {
	table := converters[width]
	if table == nil {
		table = converters[Width32]
	}
	if converter, ok := table[tag]; ok {
		return converter
	}
	return table[""]
}

// Materialize pairs raw positional values with the schema's argument
// names, converting each one by tag and width. A count mismatch is a
// schema error and nothing is returned.
func Materialize(schema *CallSchema, values []any, width Width) (map[string]any, error) {
	if len(values) != len(schema.Arguments) {
		return nil, fmt.Errorf("%w: %s carries %d arguments, schema %d declares %d",
			ErrSchema, schema.Name, len(values), schema.Index, len(schema.Arguments))
	}

	arguments := make(map[string]any, len(values))
	for position, descriptor := range schema.Arguments {
		arguments[descriptor.Name] = ConverterFor(descriptor.Tag, width)(values[position])
	}
	return arguments, nil
}

func defaultConverter32(value any) any {
	if number, ok := value.(int64); ok && number < 0 {
		return int64(uint32(number))
	}
	return decodeText(value)
}

// defaultConverter64 leaves negative integers alone: unsigned 64-bit
// values above MaxInt64 have no compact representation downstream.
func defaultConverter64(value any) any {
	return decodeText(value)
}

func pointerConverter32(value any) any {
	number, ok := value.(int64)
	if !ok {
		return defaultConverter32(value)
	}
	return fmt.Sprintf("0x%08x", uint32(number))
}

func pointerConverter64(value any) any {
	number, ok := value.(int64)
	if !ok {
		return defaultConverter64(value)
	}
	return fmt.Sprintf("0x%016x", uint64(number))
}

// decodeText decodes binary payloads as ISO-8859-1. Every byte maps to
// the code point of the same value, so any payload survives decoding
// and can be recovered byte for byte.
func decodeText(value any) any {
	data, ok := value.([]byte)
	if !ok {
		return value
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// ISO-8859-1 has a mapping for every byte; this is unreachable
		// but keeps the raw bytes rather than dropping the argument.
		return string(data)
	}
	return string(decoded)
}
