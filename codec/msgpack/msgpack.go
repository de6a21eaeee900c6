// Package msgpack provides a MessagePack row codec.
//
// MessagePack is a binary serialization format that produces smaller
// payloads than JSON while maintaining similar flexibility. It's
// particularly useful for high-throughput change feeds.
//
// Basic usage:
//
//	codec := msgpack.NewCodec()
//	data, err := codec.Encode(scd.Row{"id": "c-1", "city": "porto"})
//	row, err := codec.Decode(data)
package msgpack

import (
	"fmt"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/codec"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec is a MessagePack implementation of codec.RowCodec.
type Codec struct{}

var _ codec.RowCodec = (*Codec)(nil)

// NewCodec creates a new MessagePack row codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes the row as MessagePack.
func (c *Codec) Encode(row scd.Row) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]any(row))
	if err != nil {
		return nil, fmt.Errorf("scd/msgpack: failed to encode row: %w", err)
	}
	return data, nil
}

// Decode deserializes MessagePack bytes into a row.
func (c *Codec) Decode(data []byte) (scd.Row, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("scd/msgpack: failed to decode row: %w", err)
	}
	return scd.Row(m), nil
}

// ContentType returns "application/msgpack".
func (c *Codec) ContentType() string {
	return "application/msgpack"
}
