// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Timestamps stay readable in diagnostic dumps.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Argument maps and module lists decode into any. The CBOR
		// default for maps there is map[any]any, which encoding/json
		// cannot marshal when events are republished.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Integers in those maps come back as int64, the type the
		// collector produced them as, whatever their sign.
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns an encoder writing a CBOR sequence to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading a CBOR sequence from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// DecodeSequence decodes every item of a CBOR sequence into a fresh T
// and passes it to visit, stopping at the first error. A clean end of
// input returns nil.
func DecodeSequence[T any](r io.Reader, visit func(*T) error) error {
	decoder := NewDecoder(r)
	for index := 0; ; index++ {
		value := new(T)
		if err := decoder.Decode(value); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding item %d: %w", index, err)
		}
		if err := visit(value); err != nil {
			return err
		}
	}
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// first item in data and the unconsumed remainder.
func Diagnose(data []byte) (string, []byte, error) {
	return cbor.DiagnoseFirst(data)
}
