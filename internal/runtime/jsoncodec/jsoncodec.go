// Package jsoncodec is the JSON encoder used by the status API and the
// front-ends. It is backed by sonic with encoding/json compatible settings.
package jsoncodec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// Payload returns data unchanged when it is JSON, decoded into a generic
// value, or the raw bytes otherwise. Front-ends use it to turn request
// bodies into event payloads.
func Payload(data []byte) any {
	if len(data) == 0 || !Valid(data) {
		return data
	}
	var v any
	if err := Unmarshal(data, &v); err != nil {
		return data
	}
	return v
}

// Bytes renders a consumer reply payload for the wire: byte slices and
// strings pass through, anything else is JSON encoded.
func Bytes(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
