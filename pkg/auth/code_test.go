package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode_FormatAndEntropy(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)

	assert.Len(t, code, CodeLength)
	raw, err := hex.DecodeString(code)
	require.NoError(t, err)
	assert.Len(t, raw, CodeBytes)
	assert.GreaterOrEqual(t, len(raw)*8, 128)
}

func TestGenerateCode_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code generated")
		seen[code] = true
	}
}

func TestGenerateTokenKey(t *testing.T) {
	a, err := GenerateTokenKey()
	require.NoError(t, err)
	b, err := GenerateTokenKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
