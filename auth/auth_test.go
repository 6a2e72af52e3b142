package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	g := &Gateway{Iterations: 1000}

	salt, hash, err := g.HashAndSalt("pw1")
	require.NoError(t, err)
	assert.Len(t, salt, 2*saltBytes)
	assert.Len(t, hash, 2*keyBytes)

	assert.True(t, g.Verify(hash, salt, "pw1"))
	assert.False(t, g.Verify(hash, salt, "pw2"))
	assert.False(t, g.Verify(hash, "other-salt", "pw1"))
}

func TestSaltsDiffer(t *testing.T) {
	g := &Gateway{Iterations: 1000}

	salt1, hash1, err := g.HashAndSalt("same")
	require.NoError(t, err)
	salt2, hash2, err := g.HashAndSalt("same")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestIterationsMustMatch(t *testing.T) {
	salt, hash, err := (&Gateway{Iterations: 1000}).HashAndSalt("pw")
	require.NoError(t, err)

	assert.False(t, (&Gateway{Iterations: 1001}).Verify(hash, salt, "pw"))
}

func TestNewToken(t *testing.T) {
	g := New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := g.NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok], "duplicate token %q", tok)
		seen[tok] = true
	}
}
