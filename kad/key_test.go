package kad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("000000000000000000000000000000000000000a")
	require.NoError(t, err)
	assert.Equal(t, "000000000000000000000000000000000000000a", k.String())

	_, err = ParseKey("too-short")
	assert.Error(t, err)

	_, err = ParseKey("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestDistanceOrder(t *testing.T) {
	zero := Zero
	near := MustParseKey("0000000000000000000000000000000000000001")
	far := MustParseKey("00000000000000000000000000000000000000ff")

	less := DistanceOrder(zero)
	assert.True(t, less(near, far))
	assert.False(t, less(far, near))
	assert.False(t, less(near, near))
}

func TestEqual(t *testing.T) {
	a := MustParseKey("0000000000000000000000000000000000000001")
	b := MustParseKey("0000000000000000000000000000000000000001")
	c := RandomKey()
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
