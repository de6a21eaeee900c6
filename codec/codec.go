// Package codec defines how row payloads are encoded on the wire.
//
// Change feeds carry rows as opaque byte payloads. A RowCodec turns
// those payloads into scd.Row maps and back. The JSON codec in this
// package is the default; the msgpack subpackage provides a compact
// binary alternative.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/mergetide/go-scd"
)

// RowCodec encodes and decodes row payloads.
type RowCodec interface {
	// Encode serializes a row into bytes.
	Encode(row scd.Row) ([]byte, error)

	// Decode deserializes bytes into a row.
	Decode(data []byte) (scd.Row, error)

	// ContentType returns the MIME type of the encoded payload.
	ContentType() string
}

// JSONCodec encodes rows as JSON objects.
type JSONCodec struct{}

var _ RowCodec = (*JSONCodec)(nil)

// NewJSONCodec creates a new JSON row codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode serializes the row as a JSON object.
func (c *JSONCodec) Encode(row scd.Row) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("scd/codec: failed to encode row: %w", err)
	}
	return data, nil
}

// Decode deserializes a JSON object into a row.
func (c *JSONCodec) Decode(data []byte) (scd.Row, error) {
	var row scd.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("scd/codec: failed to decode row: %w", err)
	}
	return row, nil
}

// ContentType returns "application/json".
func (c *JSONCodec) ContentType() string {
	return "application/json"
}
