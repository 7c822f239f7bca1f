// Package overlay composes tracking overlays (ROIs, trajectory, detections,
// rearing indicator) onto video frames. Rendering backends are injected as a
// FrameSource so the composition logic stays independent of any particular
// video pipeline.
package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"micetrack/internal/geometry"
	"micetrack/internal/tracking"
)

// FrameSource supplies decoded video frames. Seek blocks until the source is
// positioned on the requested frame or ctx expires; implementations back
// this with whatever decoder they wrap.
type FrameSource interface {
	Seek(ctx context.Context, frame int) error
	CurrentFrame() int
	Frame() (image.Image, error)
}

// Options tune the renderer. Both the seek threshold and the scrub stride
// are deliberate knobs, not hidden constants.
type Options struct {
	// SeekThreshold skips the seek when the source is already within this
	// many frames of the target, avoiding redundant decoder work.
	SeekThreshold int
	// SeekTimeout bounds how long a draw waits for seek completion so a
	// stalled decoder cannot desynchronize overlays.
	SeekTimeout time.Duration
	// TrailWindow is how many preceding frames of trajectory to draw.
	TrailWindow int
	// ScrubStride makes bulk scrubbing render only every Nth frame
	// (state-change frames always render), trading smoothness for
	// throughput.
	ScrubStride int

	ROIColor      color.RGBA
	NamedColor    color.RGBA
	TrailColor    color.RGBA
	MarkerColor   color.RGBA
	KeypointColor color.RGBA
	EventColor    color.RGBA
}

// DefaultOptions returns the renderer defaults.
func DefaultOptions() Options {
	return Options{
		SeekThreshold: 2,
		SeekTimeout:   2 * time.Second,
		TrailWindow:   120,
		ScrubStride:   10,
		ROIColor:      color.RGBA{0, 255, 0, 255},
		NamedColor:    color.RGBA{255, 165, 0, 255},
		TrailColor:    color.RGBA{0, 200, 255, 255},
		MarkerColor:   color.RGBA{255, 0, 0, 255},
		KeypointColor: color.RGBA{255, 0, 255, 255},
		EventColor:    color.RGBA{255, 60, 60, 255},
	}
}

// Data is everything drawn on top of one video frame
type Data struct {
	ROIs      geometry.ROIList
	NamedROIs []tracking.NamedROI
	Frames    []tracking.Frame // full tracking data; the trail window is cut from it
	Events    []tracking.RearingEvent
	// KeypointEdges lists keypoint index pairs to connect as a skeleton.
	KeypointEdges [][2]int
}

// Renderer draws one consistent frame: it seeks the source, waits for the
// seek to land, then composes the overlay layers.
type Renderer struct {
	source FrameSource
	opts   Options

	lastScrubRendered int
	lastInsideEvent   bool
}

// NewRenderer creates a renderer over a frame source.
func NewRenderer(source FrameSource, opts Options) *Renderer {
	if opts.SeekTimeout <= 0 {
		opts.SeekTimeout = DefaultOptions().SeekTimeout
	}
	if opts.ScrubStride <= 0 {
		opts.ScrubStride = 1
	}
	// Seeded one stride back so the first scrubbed frame always renders.
	return &Renderer{source: source, opts: opts, lastScrubRendered: -opts.ScrubStride}
}

// Render seeks to frameIndex (when needed), awaits completion and returns
// the composed raster.
func (r *Renderer) Render(ctx context.Context, frameIndex int, data *Data) (*image.RGBA, error) {
	delta := frameIndex - r.source.CurrentFrame()
	if delta < 0 {
		delta = -delta
	}
	if delta > r.opts.SeekThreshold {
		seekCtx, cancel := context.WithTimeout(ctx, r.opts.SeekTimeout)
		err := r.source.Seek(seekCtx, frameIndex)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("seek to frame %d failed: %w", frameIndex, err)
		}
	}

	src, err := r.source.Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %d: %w", frameIndex, err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	r.drawROIs(canvas, data)
	r.drawTrail(canvas, data, frameIndex)
	r.drawDetection(canvas, data, frameIndex)
	r.drawRearingIndicator(canvas, data, frameIndex)
	return canvas, nil
}

// RenderScrub is the throttled variant used during bulk scrub-through (e.g.
// reviewing a whole batch). Frames are skipped unless the rearing state
// changes at this frame or the frame is at least one stride away from the
// last rendered one, in either direction. It returns rendered=false for
// skipped frames.
func (r *Renderer) RenderScrub(ctx context.Context, frameIndex int, data *Data) (*image.RGBA, bool, error) {
	inside := insideEvent(data.Events, frameIndex)
	stateChange := inside != r.lastInsideEvent
	gap := frameIndex - r.lastScrubRendered
	if gap < 0 {
		gap = -gap
	}
	r.lastInsideEvent = inside

	if !stateChange && gap < r.opts.ScrubStride {
		return nil, false, nil
	}
	img, err := r.Render(ctx, frameIndex, data)
	if err != nil {
		return nil, false, err
	}
	r.lastScrubRendered = frameIndex
	return img, true, nil
}

func (r *Renderer) drawROIs(canvas *image.RGBA, data *Data) {
	for _, roi := range data.ROIs {
		drawROIOutline(canvas, roi, r.opts.ROIColor)
	}
	for _, named := range data.NamedROIs {
		drawCircleOutline(canvas, named.CenterX, named.CenterY, named.Radius, r.opts.NamedColor)
		drawLabel(canvas, int(named.CenterX-named.Radius), int(named.CenterY-named.Radius)-4, named.Name, r.opts.NamedColor)
	}
}

// drawTrail draws the trajectory of the last TrailWindow frames up to and
// including frameIndex.
func (r *Renderer) drawTrail(canvas *image.RGBA, data *Data, frameIndex int) {
	if r.opts.TrailWindow <= 0 {
		return
	}
	first := frameIndex - r.opts.TrailWindow
	var px, py float64
	havePrev := false
	for i := range data.Frames {
		f := &data.Frames[i]
		if f.FrameNumber < first || f.FrameNumber > frameIndex || !f.HasDetection() {
			continue
		}
		x, y := *f.CentroidX, *f.CentroidY
		if havePrev {
			drawLine(canvas, px, py, x, y, r.opts.TrailColor)
		}
		px, py = x, y
		havePrev = true
	}
}

// drawDetection marks the current detection point and, for pose data, the
// keypoints and skeleton.
func (r *Renderer) drawDetection(canvas *image.RGBA, data *Data, frameIndex int) {
	f := frameAt(data.Frames, frameIndex)
	if f == nil {
		return
	}
	if f.HasDetection() {
		drawFilledCircle(canvas, *f.CentroidX, *f.CentroidY, 4, r.opts.MarkerColor)
	}
	for _, kp := range f.Keypoints {
		if kp.Conf > 0.5 {
			drawFilledCircle(canvas, kp.X, kp.Y, 2, r.opts.KeypointColor)
		}
	}
	for _, edge := range data.KeypointEdges {
		a, b := edge[0], edge[1]
		if a < 0 || b < 0 || a >= len(f.Keypoints) || b >= len(f.Keypoints) {
			continue
		}
		ka, kb := f.Keypoints[a], f.Keypoints[b]
		if ka.Conf > 0.5 && kb.Conf > 0.5 {
			drawLine(canvas, ka.X, ka.Y, kb.X, kb.Y, r.opts.KeypointColor)
		}
	}
}

func (r *Renderer) drawRearingIndicator(canvas *image.RGBA, data *Data, frameIndex int) {
	if !insideEvent(data.Events, frameIndex) {
		return
	}
	drawLabel(canvas, canvas.Bounds().Min.X+8, canvas.Bounds().Min.Y+16, "REARING", r.opts.EventColor)
}

// insideEvent reports whether frameIndex falls inside any rearing event.
// Events are ordered and non-overlapping.
func insideEvent(events []tracking.RearingEvent, frameIndex int) bool {
	for _, ev := range events {
		if frameIndex >= ev.StartFrame && frameIndex < ev.EndFrame {
			return true
		}
		if ev.StartFrame > frameIndex {
			break
		}
	}
	return false
}

func frameAt(frames []tracking.Frame, frameIndex int) *tracking.Frame {
	for i := range frames {
		if frames[i].FrameNumber == frameIndex {
			return &frames[i]
		}
		if frames[i].FrameNumber > frameIndex {
			break
		}
	}
	return nil
}
