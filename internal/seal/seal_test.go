package seal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 32)
}

func TestSealOpen(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("hello"))
	require.NoError(t, err)

	parts := strings.Split(sealed, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], ivSize*2)
	assert.Len(t, parts[1], tagSize*2)
	assert.Len(t, parts[2], len("hello")*2)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	again, err := s.Seal([]byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "iv must be random")
}

func TestOpenRejectsTampering(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)
	sealed, err := s.Seal([]byte(`{"accounts":[]}`))
	require.NoError(t, err)

	parts := strings.Split(sealed, ":")
	flipped := []byte(parts[2])
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(flipped)

	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	a, err := New(testKey(1))
	require.NoError(t, err)
	b, err := New(testKey(2))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestOpenRejectsMalformed(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)
	for _, in := range []string{"", "abc", "zz:zz:zz", "00:00:00", "a:b:c:d"} {
		_, err := s.Open(in)
		assert.ErrorIs(t, err, ErrInvalidPayload, in)
	}
}

func TestJSONHelpers(t *testing.T) {
	s, err := New(testKey(3))
	require.NoError(t, err)

	type payload struct {
		Nonce string `json:"nonce"`
	}
	sealed, err := s.SealJSON(payload{Nonce: "n1"})
	require.NoError(t, err)

	var got payload
	require.NoError(t, s.OpenJSON(sealed, &got))
	assert.Equal(t, "n1", got.Nonce)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}
