package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRange(t *testing.T) {
	r, err := NewRange(9, 16)
	require.NoError(t, err)

	assert.Equal(t, 9, r.Start())
	assert.Equal(t, 16, r.End())
	assert.Equal(t, 8, r.Len())
	assert.Equal(t, "[9,16]", r.String())
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14, 15, 16}, r.Pages())
}

func TestNewRange_Invalid(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
	}{
		{"start after end", 5, 4},
		{"zero start", 0, 3},
		{"negative", -2, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRange(tc.start, tc.end)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestRange_Contains(t *testing.T) {
	r := MustRange(9, 16)

	assert.True(t, r.Contains(9))
	assert.True(t, r.Contains(16))
	assert.False(t, r.Contains(8))
	assert.False(t, r.Contains(17))
	assert.False(t, Range{}.Contains(0))

	assert.True(t, r.ContainsRange(MustRange(10, 12)))
	assert.True(t, r.ContainsRange(r))
	assert.False(t, r.ContainsRange(MustRange(15, 17)))
}

func TestChunkFor(t *testing.T) {
	assert.Equal(t, MustRange(1, 8), ChunkFor(1, 8, 40))
	assert.Equal(t, MustRange(1, 8), ChunkFor(8, 8, 40))
	assert.Equal(t, MustRange(9, 16), ChunkFor(10, 8, 40))
	assert.Equal(t, MustRange(33, 37), ChunkFor(35, 8, 37))
	assert.True(t, ChunkFor(0, 8, 40).IsZero())
	assert.True(t, ChunkFor(41, 8, 40).IsZero())
	assert.True(t, ChunkFor(3, 0, 40).IsZero())
}

func TestChunksCovering(t *testing.T) {
	chunks := ChunksCovering([]int{7, 8, 9, 10, 11}, 8, 40)

	assert.Equal(t, []Range{MustRange(1, 8), MustRange(9, 16)}, chunks)
	assert.Empty(t, ChunksCovering(nil, 8, 40))
}

func TestScaleKey(t *testing.T) {
	assert.Equal(t, ScaleKey("1.00"), NewScaleKey(1))
	assert.Equal(t, ScaleKey("1.50"), NewScaleKey(1.5))
	assert.Equal(t, ScaleKey("1.33"), NewScaleKey(1.3333))
	assert.NotEqual(t, NewScaleKey(1.0), NewScaleKey(1.5))
	assert.InDelta(t, 1.5, NewScaleKey(1.5).Float(), 1e-9)
	assert.Equal(t, "1.50:9", ChunkKey(NewScaleKey(1.5), 9))
}

func TestEntry(t *testing.T) {
	e := NewEntry(5, "bmp-1", StatusReady)

	assert.Equal(t, 5, e.Number())
	assert.Equal(t, "bmp-1", e.BitmapID())
	assert.Equal(t, StatusReady, e.Status())
	assert.True(t, e.Ready())
	assert.False(t, NewEntry(5, "", StatusPending).Ready())
}
