package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKenBurnsVariants(t *testing.T) {
	k := NewKenBurns()
	tests := []struct {
		index        int
		startScale   float64
		endScale     float64
		endDX, endDY float64
	}{
		{0, 1.0, 1.15, 0.02, 0.02},
		{1, 1.15, 1.0, -0.02, -0.02},
		{2, 1.0, 1.15, -0.02, 0.02},
		{3, 1.15, 1.0, 0.02, -0.02},
		{4, 1.0, 1.15, 0.02, 0.02},
	}
	for _, tt := range tests {
		start := k.Motion(tt.index, 0)
		end := k.Motion(tt.index, 1)
		assert.InDelta(t, tt.startScale, start.Scale, 1e-9, "index %d", tt.index)
		assert.InDelta(t, tt.endScale, end.Scale, 1e-9, "index %d", tt.index)
		assert.InDelta(t, tt.endDX, end.OffsetX, 1e-9)
		assert.InDelta(t, tt.endDY, end.OffsetY, 1e-9)
		assert.InDelta(t, -tt.endDX, start.OffsetX, 1e-9)
	}

	mid := k.Motion(0, 0.5)
	assert.InDelta(t, 1.075, mid.Scale, 1e-9)
	assert.Zero(t, mid.OffsetX)
	assert.Equal(t, k.Motion(2, 1), k.Motion(2, 7))
}

func TestNewEffect(t *testing.T) {
	e, err := NewEffect("")
	require.NoError(t, err)
	assert.InDelta(t, 0.04, OverscanOf(e), 1e-9)

	e, err = NewEffect("static")
	require.NoError(t, err)
	assert.Equal(t, Motion{Scale: 1}, e.Motion(3, 0.3))
	assert.Zero(t, OverscanOf(e))

	_, err = NewEffect("zoompan")
	assert.Error(t, err)
}
