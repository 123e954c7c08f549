// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Record is one decoded telemetry message. Field values are normalized
// to a small set of Go types:
//
//   - int64 for BSON int32 and int64
//   - float64, bool, string; NaN and infinite doubles become the
//     strings "NaN", "+Inf" and "-Inf"
//   - []byte for BSON binary
//   - []any for arrays, map[string]any for embedded documents
//   - nil for BSON null and undefined
//
// A Record lives for one decode step; nothing retains it afterwards.
type Record struct {
	Fields map[string]any

	// Size is the number of wire bytes the record occupied, including
	// the length prefix.
	Size int
}

// Type returns the record's declared message type, or "none" when the
// record carries no type field (plain API call records).
func (r Record) Type() string {
	return r.String("type", "none")
}

// Get returns the raw normalized value of a field.
func (r Record) Get(key string) (any, bool) {
	value, ok := r.Fields[key]
	return value, ok
}

// Has reports whether the record carries the field at all.
func (r Record) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// Int returns an integer field, or fallback when the field is absent or
// not numeric.
func (r Record) Int(key string, fallback int64) int64 {
	value, ok := r.Fields[key]
	if !ok {
		return fallback
	}
	if number, ok := AsInt(value); ok {
		return number
	}
	return fallback
}

// String returns a text field. Binary fields are returned as their raw
// bytes. Absent or non-text fields yield fallback.
func (r Record) String(key, fallback string) string {
	switch value := r.Fields[key].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fallback
	}
}

// Bytes returns a binary or text field as bytes.
func (r Record) Bytes(key string) ([]byte, bool) {
	switch value := r.Fields[key].(type) {
	case []byte:
		return value, true
	case string:
		return []byte(value), true
	default:
		return nil, false
	}
}

// List returns an array field. A missing field yields nil with ok set
// to false; a present field of another type is also reported as not ok.
func (r Record) List(key string) ([]any, bool) {
	value, present := r.Fields[key]
	if !present {
		return nil, false
	}
	list, ok := value.([]any)
	return list, ok
}

// Document returns an embedded-document field.
func (r Record) Document(key string) (map[string]any, bool) {
	document, ok := r.Fields[key].(map[string]any)
	return document, ok
}

// AsInt converts a normalized numeric value to int64. Booleans count as
// 0 and 1, matching how the monitor encodes flags.
func AsInt(value any) (int64, bool) {
	switch number := value.(type) {
	case int64:
		return number, true
	case float64:
		return int64(number), true
	case bool:
		if number {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func decodeDocument(raw bson.Raw) (map[string]any, error) {
	elements, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	fields := make(map[string]any, len(elements))
	for _, element := range elements {
		key, err := element.KeyErr()
		if err != nil {
			return nil, fmt.Errorf("decoding element key: %w", err)
		}
		rawValue, err := element.ValueErr()
		if err != nil {
			return nil, fmt.Errorf("decoding field %q: %w", key, err)
		}
		value, err := decodeValue(rawValue)
		if err != nil {
			return nil, fmt.Errorf("decoding field %q: %w", key, err)
		}
		fields[key] = value
	}
	return fields, nil
}

func decodeArray(raw bson.Raw) ([]any, error) {
	values, err := raw.Values()
	if err != nil {
		return nil, fmt.Errorf("decoding array: %w", err)
	}

	list := make([]any, 0, len(values))
	for index, rawValue := range values {
		value, err := decodeValue(rawValue)
		if err != nil {
			return nil, fmt.Errorf("decoding array element %d: %w", index, err)
		}
		list = append(list, value)
	}
	return list, nil
}

func decodeValue(rawValue bson.RawValue) (any, error) {
	switch rawValue.Type {
	case bsontype.Int32:
		if value, ok := rawValue.Int32OK(); ok {
			return int64(value), nil
		}
	case bsontype.Int64:
		if value, ok := rawValue.Int64OK(); ok {
			return value, nil
		}
	case bsontype.Double:
		if value, ok := rawValue.DoubleOK(); ok {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return strconv.FormatFloat(value, 'g', -1, 64), nil
			}
			return value, nil
		}
	case bsontype.Boolean:
		if value, ok := rawValue.BooleanOK(); ok {
			return value, nil
		}
	case bsontype.String:
		if value, ok := rawValue.StringValueOK(); ok {
			return value, nil
		}
	case bsontype.Binary:
		if _, data, ok := rawValue.BinaryOK(); ok {
			return data, nil
		}
	case bsontype.DateTime:
		if value, ok := rawValue.DateTimeOK(); ok {
			return value, nil
		}
	case bsontype.Array:
		if array, ok := rawValue.ArrayOK(); ok {
			return decodeArray(array)
		}
	case bsontype.EmbeddedDocument:
		if document, ok := rawValue.DocumentOK(); ok {
			return decodeDocument(document)
		}
	case bsontype.Null, bsontype.Undefined:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported BSON type %s", rawValue.Type)
	}
	return nil, fmt.Errorf("malformed BSON %s value", rawValue.Type)
}
