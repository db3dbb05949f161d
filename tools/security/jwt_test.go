package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))

	token, hash, exp, err := Generate(opts, "u1", []string{"im"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Contains(t, hash, "sha256:")
	assert.True(t, exp.After(time.Now()))

	user, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, _, _, err := Generate(DefaultOptions([]byte("secret-a")), "u1", nil)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("secret-b")), token)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	opts.TTL = time.Millisecond
	token, _, _, err := Generate(opts, "u1", nil)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond) // exp 按秒截断，留足余量

	_, err = Verify(opts, token)
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := Verify(DefaultOptions([]byte("s")), "not.a.jwt")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.Alg = "RS256"
	_, _, _, err := Generate(opts, "u1", nil)
	assert.Error(t, err)
}
