package token

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	// 32 bytes of entropy encode to 43 unpadded base64url characters.
	assert.Len(t, id, 43)
	assert.False(t, strings.ContainsAny(id, "+/="), "token must be URL-safe and unpadded")

	escaped := url.PathEscape(id)
	assert.Equal(t, id, escaped, "token must not require path escaping")
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := Generate()
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate identifier generated")
		seen[id] = true
	}
}
