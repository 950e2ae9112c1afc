package users

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldCipher_RoundTrip(t *testing.T) {
	c, err := NewFieldCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	enc, err := c.Encrypt("alice@example.com")
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "alice")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", plain)
}

func TestFieldCipher_Rejects(t *testing.T) {
	_, err := NewFieldCipher([]byte("short"))
	require.Error(t, err)

	c, err := NewFieldCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	_, err = c.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	other, _ := NewFieldCipher(bytes.Repeat([]byte{2}, 32))
	enc, _ := other.Encrypt("secret")
	_, err = c.Decrypt(enc)
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{FirstName: "Ada", LastName: "Lovelace", Username: "ada"}).DisplayName())
	assert.Equal(t, "ada", (&User{Username: "ada", Email: "ada.l@example.com"}).DisplayName())
	assert.Equal(t, "Ada L", (&User{Email: "ada.l@example.com"}).DisplayName())
}
