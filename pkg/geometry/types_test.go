package geometry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBBoxUnmarshalJSON(t *testing.T) {
	want := BBox{X1: 1, Y1: 2, X2: 30, Y2: 40.5}

	for _, in := range []string{
		`{"x1": 1, "y1": 2, "x2": 30, "y2": 40.5}`,
		`[1, 2, 30, 40.5]`,
		` [1,2,30,40.5] `,
	} {
		var b BBox
		require.NoError(t, json.Unmarshal([]byte(in), &b), in)
		assert.Equal(t, want, b, in)
	}

	var b BBox
	assert.ErrorContains(t, json.Unmarshal([]byte(`[1, 2, 3]`), &b), "want 4 values")
	assert.Error(t, json.Unmarshal([]byte(`["a", 2, 3, 4]`), &b))
	assert.Error(t, json.Unmarshal([]byte(`"box"`), &b))

	out, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x1": 1, "y1": 2, "x2": 30, "y2": 40.5}`, string(out))
}

func TestBBoxUnmarshalJSON_InStruct(t *testing.T) {
	var v struct {
		Boxes []BBox `json:"boxes"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"boxes": [[0, 0, 10, 10], {"x1": 5, "y1": 5, "x2": 6, "y2": 7}]}`), &v))
	require.Len(t, v.Boxes, 2)
	assert.Equal(t, Point2D{X: 5, Y: 5}, v.Boxes[0].Center())
	assert.Equal(t, BBox{X1: 5, Y1: 5, X2: 6, Y2: 7}, v.Boxes[1])
}
