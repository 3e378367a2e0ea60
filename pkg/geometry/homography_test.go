package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHomography_Identity(t *testing.T) {
	pts := [4]Point2D{{0, 0}, {100, 0}, {100, 100}, {0, 100}}

	h, err := ComputeHomography(pts, pts)
	require.NoError(t, err)

	id := Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, id[r][c], h[r][c], 1e-9)
		}
	}
}

func TestComputeHomography_RoundTrip(t *testing.T) {
	src := [4]Point2D{{52.3, 40.1}, {598.7, 61.9}, {611.2, 455.5}, {38.4, 430.0}}
	dst := [4]Point2D{{30, 30}, {610, 30}, {610, 450}, {30, 450}}

	h, err := ComputeHomography(src, dst)
	require.NoError(t, err)

	for i := range src {
		got, ok := h.Apply(src[i])
		require.True(t, ok)
		assert.InDelta(t, dst[i].X, got.X, 1e-6)
		assert.InDelta(t, dst[i].Y, got.Y, 1e-6)
	}
}

func TestComputeHomography_Degenerate(t *testing.T) {
	collinear := [4]Point2D{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	_, err := ComputeHomography(collinear, collinear)
	assert.Error(t, err)
}
