package keyrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroRangeContainsNothing(t *testing.T) {
	var r Range
	assert.False(t, r.Valid())
	assert.False(t, r.In(""))
	assert.False(t, r.In("anything"))
}

func TestBoundedRange(t *testing.T) {
	r, err := New("f", "m", false)
	require.NoError(t, err)

	assert.True(t, r.In("f"), "min is inclusive")
	assert.True(t, r.In("m"), "max is inclusive")
	assert.True(t, r.In("ham"))
	assert.False(t, r.In("e"))
	assert.False(t, r.In("n"))
	assert.False(t, r.In("mm"), "mm sorts after m")
}

func TestUnlimitedRange(t *testing.T) {
	r, err := New("m", "", true)
	require.NoError(t, err)

	assert.True(t, r.Unlimited())
	assert.True(t, r.In("m"))
	assert.True(t, r.In("zulu"))
	assert.True(t, r.In("\xff\xff"))
	assert.False(t, r.In("a"))
}

func TestAllInclusive(t *testing.T) {
	var r Range
	r.SetAllInclusive()

	assert.True(t, r.Valid())
	assert.True(t, r.Unlimited())
	assert.Equal(t, "", r.Min())
	assert.True(t, r.In(""))
	assert.True(t, r.In("object42"))
	assert.True(t, r.In("\xff"))
}

func TestInvertedBoundsRejected(t *testing.T) {
	_, err := New("m", "a", false)
	require.ErrorIs(t, err, ErrInverted)

	// The failed mutation leaves an existing range untouched.
	r, err := New("a", "m", false)
	require.NoError(t, err)
	require.ErrorIs(t, r.SetMinMax("z", "b", false), ErrInverted)
	assert.Equal(t, "a", r.Min())
	assert.Equal(t, "m", r.Max())
	assert.True(t, r.Valid())
}

func TestUnlimitedIgnoresInversion(t *testing.T) {
	var r Range
	require.NoError(t, r.SetMinMax("m", "a", true))
	assert.True(t, r.In("zzz"))
	assert.False(t, r.In("a"))
}

func TestString(t *testing.T) {
	var r Range
	assert.Equal(t, "range(invalid)", r.String())
	r.SetAllInclusive()
	assert.Contains(t, r.String(), "∞")
}
