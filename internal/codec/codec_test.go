package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewSealCodec(t *testing.T) {
	_, err := NewSealCodec([]byte("short"))
	assert.Error(t, err, "expected short secret to be rejected")

	c, err := NewSealCodec(testSecret)
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSealCodec_RoundTrip(t *testing.T) {
	c, err := NewSealCodec(testSecret)
	require.NoError(t, err)

	tcases := []string{"hello", "", "émoji 🙂 and newline\n", string(make([]byte, 4096))}
	for _, content := range tcases {
		encoded, err := c.Encode("doc1_cli1", content)
		require.NoError(t, err)
		if content != "" {
			assert.NotEqual(t, content, encoded, "expected encoded content to differ from plaintext")
		}

		decoded, err := c.Decode("doc1_cli1", encoded)
		require.NoError(t, err)
		assert.Equal(t, content, decoded, "expected round trip to return original content")
	}
}

func TestSealCodec_DecodeWithOtherRoom(t *testing.T) {
	c, err := NewSealCodec(testSecret)
	require.NoError(t, err)

	encoded, err := c.Encode("doc1_cli1", "hello")
	require.NoError(t, err)

	_, err = c.Decode("doc2_cli1", encoded)
	assert.ErrorIs(t, err, ErrInvalidContent, "expected decoding under another room id to fail")
}

func TestSealCodec_DecodeInvalid(t *testing.T) {
	c, err := NewSealCodec(testSecret)
	require.NoError(t, err)

	tcases := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "***"},
		{name: "too short", encoded: "AAAA"},
		{name: "plaintext", encoded: "hello-world-this-is-not-sealed-content-at-all-really"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decode("doc1_cli1", tc.encoded)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestIdentity(t *testing.T) {
	var c MessageCodec = Identity{}
	encoded, err := c.Encode("room", "hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello", encoded)

	decoded, err := c.Decode("room", encoded)
	assert.NoError(t, err)
	assert.Equal(t, "hello", decoded)
}
