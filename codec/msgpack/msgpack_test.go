package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/codec"
)

func TestCodec(t *testing.T) {
	c := NewCodec()

	t.Run("round trip", func(t *testing.T) {
		row := scd.Row{"customer_id": "c-1", "active": true}

		data, err := c.Encode(row)
		require.NoError(t, err)

		decoded, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "c-1", decoded["customer_id"])
		assert.Equal(t, true, decoded["active"])
	})

	t.Run("binary payloads are smaller than JSON", func(t *testing.T) {
		row := scd.Row{}
		for i := 0; i < 20; i++ {
			row[string(rune('a'+i))] = i
		}

		packed, err := c.Encode(row)
		require.NoError(t, err)
		jsonData, err := codec.NewJSONCodec().Encode(row)
		require.NoError(t, err)

		assert.Less(t, len(packed), len(jsonData))
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := c.Decode([]byte{0xc1})
		assert.Error(t, err)
	})

	t.Run("content type", func(t *testing.T) {
		assert.Equal(t, "application/msgpack", c.ContentType())
	})
}
