package tenantcode

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Format(t *testing.T) {
	g := NewGenerator("LMR")

	code, err := g.Generate()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^lmr_[a-z2-7]{26}$`), code)
}

func TestGenerator_DefaultPrefix(t *testing.T) {
	code, err := NewGenerator("").Generate()
	require.NoError(t, err)
	assert.Regexp(t, `^cp_[a-z2-7]{26}$`, code)
}

func TestGenerator_Unique(t *testing.T) {
	g := NewGenerator("cp")
	seen := make(map[string]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}
