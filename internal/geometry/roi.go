package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// ROIType discriminates the ROI union on the wire
type ROIType string

const (
	ROITypeRectangle ROIType = "Rectangle"
	ROITypeCircle    ROIType = "Circle"
	ROITypePolygon   ROIType = "Polygon"
)

// ROI is a region of interest in source-video pixel space.
// Implementations are pure values: containment and centroid have no side effects
// and are shared between rendering and event detection.
type ROI interface {
	Type() ROIType
	// Contains reports whether the point (x, y) lies inside the region.
	// Bounds are inclusive for rectangles and circles. For polygons the
	// even-odd rule is used and points exactly on an edge may be classified
	// either way; callers must not rely on boundary classification.
	Contains(x, y float64) bool
	// Centroid returns the geometric center used when persisting presets.
	Centroid() (float64, float64)
	// Validate checks the geometric invariants (positive dimensions,
	// polygon vertex count).
	Validate() error
}

// Rectangle is an axis-aligned rectangle defined by its center point
type Rectangle struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (r Rectangle) Type() ROIType { return ROITypeRectangle }

func (r Rectangle) Contains(x, y float64) bool {
	return x >= r.CenterX-r.Width/2 && x <= r.CenterX+r.Width/2 &&
		y >= r.CenterY-r.Height/2 && y <= r.CenterY+r.Height/2
}

func (r Rectangle) Centroid() (float64, float64) { return r.CenterX, r.CenterY }

func (r Rectangle) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("rectangle dimensions must be positive (got %gx%g)", r.Width, r.Height)
	}
	return nil
}

// Circle is defined by its center point and radius
type Circle struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
}

func (c Circle) Type() ROIType { return ROITypeCircle }

func (c Circle) Contains(x, y float64) bool {
	dx := x - c.CenterX
	dy := y - c.CenterY
	return math.Sqrt(dx*dx+dy*dy) <= c.Radius
}

func (c Circle) Centroid() (float64, float64) { return c.CenterX, c.CenterY }

func (c Circle) Validate() error {
	if c.Radius <= 0 {
		return fmt.Errorf("circle radius must be positive (got %g)", c.Radius)
	}
	return nil
}

// Polygon is a closed polygon defined by an ordered vertex list.
// CenterX/CenterY carry the precomputed centroid on the wire; Centroid()
// always recomputes from the vertices.
type Polygon struct {
	CenterX  float64      `json:"center_x"`
	CenterY  float64      `json:"center_y"`
	Vertices [][2]float64 `json:"vertices"`
}

func (p Polygon) Type() ROIType { return ROITypePolygon }

// Contains implements the even-odd (ray casting) rule over the vertex list.
func (p Polygon) Contains(x, y float64) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := p.Vertices[i][0], p.Vertices[i][1]
		xj, yj := p.Vertices[j][0], p.Vertices[j][1]
		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Centroid returns the arithmetic mean of the vertices.
func (p Polygon) Centroid() (float64, float64) {
	if len(p.Vertices) == 0 {
		return 0, 0
	}
	var sx, sy float64
	for _, v := range p.Vertices {
		sx += v[0]
		sy += v[1]
	}
	n := float64(len(p.Vertices))
	return sx / n, sy / n
}

func (p Polygon) Validate() error {
	if len(p.Vertices) < 3 {
		return fmt.Errorf("polygon requires at least 3 vertices (got %d)", len(p.Vertices))
	}
	return nil
}

// roiEnvelope is the wire representation shared by all ROI variants
type roiEnvelope struct {
	ROIType  ROIType      `json:"roi_type"`
	CenterX  float64      `json:"center_x"`
	CenterY  float64      `json:"center_y"`
	Width    float64      `json:"width,omitempty"`
	Height   float64      `json:"height,omitempty"`
	Radius   float64      `json:"radius,omitempty"`
	Vertices [][2]float64 `json:"vertices,omitempty"`
}

// EncodeROI marshals an ROI with its roi_type discriminator.
func EncodeROI(roi ROI) ([]byte, error) {
	env := roiEnvelope{ROIType: roi.Type()}
	switch r := roi.(type) {
	case Rectangle:
		env.CenterX, env.CenterY = r.CenterX, r.CenterY
		env.Width, env.Height = r.Width, r.Height
	case Circle:
		env.CenterX, env.CenterY = r.CenterX, r.CenterY
		env.Radius = r.Radius
	case Polygon:
		env.CenterX, env.CenterY = r.Centroid()
		env.Vertices = r.Vertices
	default:
		return nil, fmt.Errorf("unknown ROI variant %T", roi)
	}
	return json.Marshal(env)
}

// DecodeROI unmarshals a tagged ROI and validates its invariants.
func DecodeROI(data []byte) (ROI, error) {
	var env roiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode ROI: %w", err)
	}
	var roi ROI
	switch env.ROIType {
	case ROITypeRectangle:
		roi = Rectangle{CenterX: env.CenterX, CenterY: env.CenterY, Width: env.Width, Height: env.Height}
	case ROITypeCircle:
		roi = Circle{CenterX: env.CenterX, CenterY: env.CenterY, Radius: env.Radius}
	case ROITypePolygon:
		roi = Polygon{CenterX: env.CenterX, CenterY: env.CenterY, Vertices: env.Vertices}
	default:
		return nil, fmt.Errorf("unknown roi_type %q", env.ROIType)
	}
	if err := roi.Validate(); err != nil {
		return nil, err
	}
	return roi, nil
}

// ROIList is a heterogeneous ROI slice that round-trips through JSON
// preserving each element's roi_type tag.
type ROIList []ROI

func (l ROIList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for _, roi := range l {
		b, err := EncodeROI(roi)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func (l *ROIList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ROIList, 0, len(raw))
	for i, m := range raw {
		roi, err := DecodeROI(m)
		if err != nil {
			return fmt.Errorf("roi %d: %w", i, err)
		}
		out = append(out, roi)
	}
	*l = out
	return nil
}
