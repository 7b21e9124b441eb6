package pii

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte(strings.Repeat("k", 32))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	payload, err := c.Encrypt("jane@gym.com")
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "jane", "ciphertext must not leak plaintext")

	plain, err := c.Decrypt(payload)
	require.NoError(t, err)
	assert.Equal(t, "jane@gym.com", plain)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	a, err := c.Encrypt("jane@gym.com")
	require.NoError(t, err)
	b, err := c.Encrypt("jane@gym.com")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestDecryptWrongKey(t *testing.T) {
	c1, err := NewCodec(testKey())
	require.NoError(t, err)
	c2, err := NewCodec([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	payload, err := c1.Encrypt("+15551234567")
	require.NoError(t, err)

	_, err = c2.Decrypt(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecryptTruncatedPayload(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	_, err = c.Decrypt([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewCodecRejectsShortKey(t *testing.T) {
	_, err := NewCodec([]byte("too-short"))
	assert.Error(t, err)
}

func TestNewCodecFromHex(t *testing.T) {
	_, err := NewCodecFromHex(strings.Repeat("ab", 32))
	assert.NoError(t, err)

	_, err = NewCodecFromHex("not-hex")
	assert.Error(t, err)
}

func TestHashNormalizes(t *testing.T) {
	assert.Equal(t, Hash("jane@gym.com"), Hash("  Jane@Gym.COM "))
	assert.NotEqual(t, Hash("jane@gym.com"), Hash("john@gym.com"))
	assert.Len(t, Hash("jane@gym.com"), 64)
}
