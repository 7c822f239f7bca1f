package geometry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsAtOwnCenter(t *testing.T) {
	rois := []ROI{
		Rectangle{CenterX: 100, CenterY: 50, Width: 40, Height: 20},
		Circle{CenterX: 320, CenterY: 240, Radius: 75},
		Polygon{Vertices: [][2]float64{{0, 0}, {100, 0}, {100, 100}, {0, 100}}},
	}
	for _, roi := range rois {
		cx, cy := roi.Centroid()
		assert.True(t, roi.Contains(cx, cy), "%s must contain its own centroid", roi.Type())
	}
}

func TestContainsFarOutside(t *testing.T) {
	rois := []ROI{
		Rectangle{CenterX: 100, CenterY: 50, Width: 40, Height: 20},
		Circle{CenterX: 320, CenterY: 240, Radius: 75},
		Polygon{Vertices: [][2]float64{{0, 0}, {100, 0}, {100, 100}, {0, 100}}},
	}
	for _, roi := range rois {
		assert.False(t, roi.Contains(-5000, -5000), "%s must not contain a far point", roi.Type())
		assert.False(t, roi.Contains(1e6, 1e6), "%s must not contain a far point", roi.Type())
	}
}

func TestRectangleInclusiveBounds(t *testing.T) {
	r := Rectangle{CenterX: 50, CenterY: 50, Width: 20, Height: 10}
	assert.True(t, r.Contains(40, 45)) // top-left corner
	assert.True(t, r.Contains(60, 55)) // bottom-right corner
	assert.False(t, r.Contains(60.01, 55))
	assert.False(t, r.Contains(40, 44.99))
}

func TestCircleInclusiveRadius(t *testing.T) {
	c := Circle{CenterX: 0, CenterY: 0, Radius: 10}
	assert.True(t, c.Contains(10, 0))
	assert.True(t, c.Contains(0, -10))
	assert.False(t, c.Contains(10.001, 0))
}

func TestPolygonVertexRotationInvariance(t *testing.T) {
	// Non-convex polygon; the result for strictly inside/outside points must
	// not depend on which vertex the list starts at.
	verts := [][2]float64{{0, 0}, {10, 0}, {10, 10}, {5, 5}, {0, 10}}
	inside := [][2]float64{{2, 2}, {8, 2}, {9, 8}}
	outside := [][2]float64{{5, 8}, {-1, 5}, {11, 5}, {5, -1}}

	for shift := 0; shift < len(verts); shift++ {
		rotated := append(append([][2]float64{}, verts[shift:]...), verts[:shift]...)
		p := Polygon{Vertices: rotated}
		for _, pt := range inside {
			assert.True(t, p.Contains(pt[0], pt[1]), "shift=%d point=%v", shift, pt)
		}
		for _, pt := range outside {
			assert.False(t, p.Contains(pt[0], pt[1]), "shift=%d point=%v", shift, pt)
		}
	}
}

func TestPolygonCentroid(t *testing.T) {
	p := Polygon{Vertices: [][2]float64{{0, 0}, {4, 0}, {4, 4}, {0, 4}}}
	cx, cy := p.Centroid()
	assert.Equal(t, 2.0, cx)
	assert.Equal(t, 2.0, cy)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Rectangle{Width: 0, Height: 10}.Validate())
	assert.Error(t, Circle{Radius: -1}.Validate())
	assert.Error(t, Polygon{Vertices: [][2]float64{{0, 0}, {1, 1}}}.Validate())
	assert.NoError(t, Rectangle{Width: 1, Height: 1}.Validate())
	assert.NoError(t, Circle{Radius: 1}.Validate())
	assert.NoError(t, Polygon{Vertices: [][2]float64{{0, 0}, {1, 0}, {0, 1}}}.Validate())
}

func TestROIRoundTrip(t *testing.T) {
	list := ROIList{
		Rectangle{CenterX: 320, CenterY: 240, Width: 100, Height: 60},
		Circle{CenterX: 100, CenterY: 100, Radius: 30},
		Polygon{Vertices: [][2]float64{{0, 0}, {50, 0}, {25, 40}}},
	}
	data, err := json.Marshal(list)
	require.NoError(t, err)

	var decoded ROIList
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)

	assert.Equal(t, ROITypeRectangle, decoded[0].Type())
	assert.Equal(t, ROITypeCircle, decoded[1].Type())
	assert.Equal(t, ROITypePolygon, decoded[2].Type())
	assert.Equal(t, list[0], decoded[0])
	assert.Equal(t, list[1], decoded[1])

	// Polygon centroid is filled in on encode.
	poly := decoded[2].(Polygon)
	cx, cy := list[2].Centroid()
	assert.Equal(t, cx, poly.CenterX)
	assert.Equal(t, cy, poly.CenterY)
	assert.Equal(t, list[2].(Polygon).Vertices, poly.Vertices)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := DecodeROI([]byte(`{"roi_type":"Ellipse","center_x":1,"center_y":1}`))
	assert.Error(t, err)
}

func TestPresetValidate(t *testing.T) {
	p := &Preset{
		PresetName:  "open_field",
		FrameWidth:  640,
		FrameHeight: 480,
		ROIs:        ROIList{Circle{CenterX: 320, CenterY: 240, Radius: 200}},
	}
	require.NoError(t, p.Validate())

	p.ROIs = append(p.ROIs, Circle{Radius: 0})
	assert.Error(t, p.Validate())

	assert.Error(t, (&Preset{FrameWidth: 640, FrameHeight: 480}).Validate())
}
