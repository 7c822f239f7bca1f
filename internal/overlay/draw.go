package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"micetrack/internal/geometry"
)

func drawROIOutline(canvas *image.RGBA, roi geometry.ROI, col color.RGBA) {
	switch r := roi.(type) {
	case geometry.Rectangle:
		x1 := r.CenterX - r.Width/2
		y1 := r.CenterY - r.Height/2
		x2 := r.CenterX + r.Width/2
		y2 := r.CenterY + r.Height/2
		drawLine(canvas, x1, y1, x2, y1, col)
		drawLine(canvas, x2, y1, x2, y2, col)
		drawLine(canvas, x2, y2, x1, y2, col)
		drawLine(canvas, x1, y2, x1, y1, col)
	case geometry.Circle:
		drawCircleOutline(canvas, r.CenterX, r.CenterY, r.Radius, col)
	case geometry.Polygon:
		n := len(r.Vertices)
		for i := 0; i < n; i++ {
			a := r.Vertices[i]
			b := r.Vertices[(i+1)%n]
			drawLine(canvas, a[0], a[1], b[0], b[1], col)
		}
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm.
func drawLine(canvas *image.RGBA, x1, y1, x2, y2 float64, col color.RGBA) {
	x, y := int(math.Round(x1)), int(math.Round(y1))
	ex, ey := int(math.Round(x2)), int(math.Round(y2))

	dx := abs(ex - x)
	dy := -abs(ey - y)
	sx, sy := 1, 1
	if x > ex {
		sx = -1
	}
	if y > ey {
		sy = -1
	}
	errAcc := dx + dy
	for {
		setPixel(canvas, x, y, col)
		if x == ex && y == ey {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			x += sx
		}
		if e2 <= dx {
			errAcc += dx
			y += sy
		}
	}
}

// drawCircleOutline samples the circle densely enough that adjacent points
// touch at any radius.
func drawCircleOutline(canvas *image.RGBA, cx, cy, radius float64, col color.RGBA) {
	if radius <= 0 {
		return
	}
	steps := int(math.Ceil(2 * math.Pi * radius))
	if steps < 8 {
		steps = 8
	}
	for i := 0; i < steps; i++ {
		angle := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + radius*math.Cos(angle)
		y := cy + radius*math.Sin(angle)
		setPixel(canvas, int(math.Round(x)), int(math.Round(y)), col)
	}
}

func drawFilledCircle(canvas *image.RGBA, cx, cy, radius float64, col color.RGBA) {
	r := int(math.Ceil(radius))
	icx, icy := int(math.Round(cx)), int(math.Round(cy))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if float64(dx*dx+dy*dy) <= radius*radius {
				setPixel(canvas, icx+dx, icy+dy, col)
			}
		}
	}
}

// drawLabel renders text with the fixed 7x13 basic font. (x, y) is the text
// baseline origin.
func drawLabel(canvas *image.RGBA, x, y int, text string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func setPixel(canvas *image.RGBA, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(canvas.Bounds()) {
		canvas.SetRGBA(x, y, col)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
