package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLength(t *testing.T) {
	for _, length := range []int{8, 12, 32, 64} {
		got, err := Generate(length)
		require.NoError(t, err)
		assert.Len(t, got, length)
	}
}

func TestGenerateRejectsShortLength(t *testing.T) {
	for _, length := range []int{0, 1, 7, -3} {
		_, err := Generate(length)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLengthTooShort)
	}
}

func TestGenerateContainsAllClasses(t *testing.T) {
	// Each class is guaranteed, not merely probable; a small sample is enough
	// to catch a regression in the guarantee.
	for i := 0; i < 50; i++ {
		got, err := Generate(MinLength)
		require.NoError(t, err)

		assert.True(t, strings.ContainsAny(got, lowercase), "missing lowercase in %q", got)
		assert.True(t, strings.ContainsAny(got, uppercase), "missing uppercase in %q", got)
		assert.True(t, strings.ContainsAny(got, digits), "missing digit in %q", got)
		assert.True(t, strings.ContainsAny(got, symbols), "missing symbol in %q", got)
	}
}

func TestGenerateStaysInsideAlphabet(t *testing.T) {
	got, err := Generate(64)
	require.NoError(t, err)
	for _, c := range got {
		assert.Contains(t, alphabet, string(c))
	}
}

func TestGenerateIsNotConstant(t *testing.T) {
	a, err := Generate(16)
	require.NoError(t, err)
	b, err := Generate(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
