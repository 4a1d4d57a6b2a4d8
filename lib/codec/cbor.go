// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes, which keeps control-socket traffic easy
// to capture and diff.
var encMode cbor.EncMode

// decMode is the CBOR decoder. Unknown fields are silently ignored so
// an older flipdisc-ctl keeps working against a newer server.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// The control protocol only ever uses string map keys. When
		// the decode target is any, pick map[string]any rather than
		// CBOR's default map[any]any so the result interoperates with
		// encoding/json and ordinary Go code.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// action-specific request bodies.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR stream encoder writing to w with the
// deterministic configuration.
func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a CBOR stream decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
