// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package callschema

import (
	"math"
	"strings"
)

// FlagSeparator joins the names of matched bitmask entries.
const FlagSeparator = "|"

// HasFlags reports whether any flag map is registered for a call name.
func (r *Registry) HasFlags(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// ResolveFlags expands integer arguments of the named call into
// symbolic flag strings.
//
// Exact-value maps are consulted first. Bitmask maps then apply to any
// argument not already resolved: every entry whose mask bits are all
// set contributes its name, in declaration order. Arguments without a
// map, missing from arguments, or not coercible to an integer produce
// no entry.
func (r *Registry) ResolveFlags(name string, arguments map[string]any) map[string]string {
	schema, ok := r.byName[name]
	if !ok {
		return nil
	}

	flags := make(map[string]string)

	for argument, values := range schema.FlagValues {
		ordinal, ok := argumentOrdinal(arguments, argument)
		if !ok {
			continue
		}
		if symbol, ok := lookupValue(values, ordinal); ok {
			flags[argument] = symbol
		}
	}

	for argument, bitFlags := range schema.FlagBitmasks {
		if _, resolved := flags[argument]; resolved {
			continue
		}
		ordinal, ok := argumentOrdinal(arguments, argument)
		if !ok {
			continue
		}
		var matched []string
		for _, flag := range bitFlags {
			if ordinal&flag.Mask == flag.Mask {
				matched = append(matched, flag.Name)
			}
		}
		flags[argument] = strings.Join(matched, FlagSeparator)
	}

	return flags
}

func argumentOrdinal(arguments map[string]any, name string) (uint64, bool) {
	value, present := arguments[name]
	if !present {
		return 0, false
	}
	return Ordinal(value)
}

// lookupValue tries the ordinal as given and, for 32-bit values, in
// sign-extended form: flag tables declare negative constants as signed
// integers while 32-bit sessions materialize the same argument
// unsigned.
func lookupValue(values map[uint64]string, ordinal uint64) (string, bool) {
	if symbol, ok := values[ordinal]; ok {
		return symbol, true
	}
	if ordinal <= math.MaxUint32 {
		extended := uint64(int64(int32(uint32(ordinal))))
		if extended != ordinal {
			symbol, ok := values[extended]
			return symbol, ok
		}
	}
	return "", false
}
