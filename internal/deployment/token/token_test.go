package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsUniqueAndWellFormed(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		raw, hash, err := Generate()
		require.NoError(t, err)
		assert.True(t, WellFormed(raw))
		assert.Equal(t, Hash(raw), hash)
		assert.Len(t, hash, 64)
		assert.NotContains(t, hash, raw)
		seen[raw] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestWellFormedRejectsGarbage(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("short"))
	assert.False(t, WellFormed("!!!!not-base64!!!!"))
}
