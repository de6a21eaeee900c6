package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergetide/go-scd"
)

func TestJSONCodec(t *testing.T) {
	c := NewJSONCodec()

	t.Run("round trip", func(t *testing.T) {
		row := scd.Row{"customer_id": "c-1", "city": "porto", "score": 3.5}

		data, err := c.Encode(row)
		require.NoError(t, err)

		decoded, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "c-1", decoded["customer_id"])
		assert.Equal(t, "porto", decoded["city"])
		assert.Equal(t, 3.5, decoded["score"])
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := c.Decode([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("content type", func(t *testing.T) {
		assert.Equal(t, "application/json", c.ContentType())
	})
}
