package rearing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micetrack/internal/tracking"
)

// Named ROI set: upper_edge circle of radius 50 at (100, 100).
func testROIs() []tracking.NamedROI {
	return []tracking.NamedROI{
		{ID: "1", Name: tracking.ROINameUpperEdge, CenterX: 100, CenterY: 100, Radius: 50},
		{ID: "2", Name: tracking.ROINameLowerEdge, CenterX: 100, CenterY: 400, Radius: 50},
	}
}

func fp(v float64) *float64 { return &v }

// framesWithPath builds a frame sequence where the centroid sits at (100,100)
// (inside upper_edge) for frame numbers in [enter, leave) and far outside it
// everywhere else.
func framesWithPath(total, enter, leave int) []tracking.Frame {
	frames := make([]tracking.Frame, 0, total)
	for i := 0; i < total; i++ {
		x, y := 500.0, 500.0
		if i >= enter && i < leave {
			x, y = 100.0, 100.0
		}
		frames = append(frames, tracking.Frame{
			FrameNumber:     i,
			CentroidX:       fp(x),
			CentroidY:       fp(y),
			DetectionMethod: tracking.DetectionMethodYOLO,
			TimestampSec:    float64(i) / 30.0,
		})
	}
	return frames
}

func TestSingleEvent(t *testing.T) {
	frames := framesWithPath(40, 10, 25)
	analysis, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 1)
	ev := analysis.Events[0]
	assert.Equal(t, 10, ev.StartFrame)
	assert.Equal(t, 25, ev.EndFrame)
	assert.Equal(t, 15, ev.DurationFrames)

	assert.Equal(t, 1, analysis.Statistics.TotalEvents)
	assert.InDelta(t, 0.5, analysis.Statistics.TotalDurationSeconds, 1e-9)
	assert.InDelta(t, 0.5, analysis.Statistics.AverageDurationSeconds, 1e-9)
}

func TestNoEvents(t *testing.T) {
	frames := framesWithPath(40, 0, 0) // never enters
	analysis, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)

	assert.Empty(t, analysis.Events)
	assert.Zero(t, analysis.Statistics.TotalEvents)
	assert.Zero(t, analysis.Statistics.AverageDurationSeconds, "no-event average must be defined as 0")
}

func TestTrailingOpenEventClosesAtLastFrame(t *testing.T) {
	frames := framesWithPath(30, 20, 30) // still inside at the last frame
	analysis, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 1)
	assert.Equal(t, 20, analysis.Events[0].StartFrame)
	assert.Equal(t, 29, analysis.Events[0].EndFrame)
	assert.Equal(t, 9, analysis.Events[0].DurationFrames)
}

func TestDetectorDropoutDoesNotSplitEvents(t *testing.T) {
	frames := framesWithPath(40, 10, 25)
	// Detector loses the animal mid-bout; state must hold.
	for i := 14; i <= 17; i++ {
		frames[i].CentroidX = nil
		frames[i].CentroidY = nil
		frames[i].DetectionMethod = tracking.DetectionMethodNone
	}
	analysis, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 1, "dropout frames must not split one bout into many")
	assert.Equal(t, 10, analysis.Events[0].StartFrame)
	assert.Equal(t, 25, analysis.Events[0].EndFrame)
}

func TestMultipleEventsAreOrderedAndNonOverlapping(t *testing.T) {
	frames := framesWithPath(60, 5, 15)
	for i := 30; i < 42; i++ {
		frames[i].CentroidX = fp(100)
		frames[i].CentroidY = fp(100)
	}
	analysis, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 2)
	first, second := analysis.Events[0], analysis.Events[1]
	assert.Less(t, first.EndFrame, second.StartFrame)
	assert.Equal(t, 5, first.StartFrame)
	assert.Equal(t, 30, second.StartFrame)
	assert.Equal(t, 42, second.EndFrame)
}

func TestInsufficientROIs(t *testing.T) {
	frames := framesWithPath(10, 0, 5)

	// upper_edge alone is not enough.
	_, err := Detect(frames, []tracking.NamedROI{
		{ID: "1", Name: tracking.ROINameUpperEdge, CenterX: 100, CenterY: 100, Radius: 50},
	}, Options{FPS: 30})
	assert.ErrorIs(t, err, ErrInsufficientROIs)

	// Two ROIs without upper_edge are not enough either.
	_, err = Detect(frames, []tracking.NamedROI{
		{ID: "1", Name: tracking.ROINameLowerEdge, CenterX: 100, CenterY: 100, Radius: 50},
		{ID: "2", Name: tracking.ROINameCentralArea, CenterX: 100, CenterY: 100, Radius: 50},
	}, Options{FPS: 30})
	assert.ErrorIs(t, err, ErrInsufficientROIs)
}

func TestPoseKeypointSelection(t *testing.T) {
	inside := tracking.Keypoint{X: 100, Y: 100, Conf: 0.9}
	outside := tracking.Keypoint{X: 500, Y: 500, Conf: 0.9}
	weak := tracking.Keypoint{X: 100, Y: 100, Conf: 0.3}

	frames := []tracking.Frame{
		// Frame 0: first configured index too weak, second qualifies (outside).
		{FrameNumber: 0, DetectionMethod: tracking.DetectionMethodYOLO, Keypoints: []tracking.Keypoint{weak, outside}},
		// Frame 1: first configured index qualifies and is inside.
		{FrameNumber: 1, DetectionMethod: tracking.DetectionMethodYOLO, Keypoints: []tracking.Keypoint{inside, outside}},
		// Frame 2: no keypoint qualifies, state holds.
		{FrameNumber: 2, DetectionMethod: tracking.DetectionMethodYOLO, Keypoints: []tracking.Keypoint{weak, weak}},
		// Frame 3: leaves.
		{FrameNumber: 3, DetectionMethod: tracking.DetectionMethodYOLO, Keypoints: []tracking.Keypoint{outside, outside}},
	}

	analysis, err := Detect(frames, testROIs(), Options{
		FPS:             30,
		AnalysisType:    AnalysisPose,
		KeypointIndices: []int{0, 1},
	})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 1)
	assert.Equal(t, 1, analysis.Events[0].StartFrame)
	assert.Equal(t, 3, analysis.Events[0].EndFrame)
	assert.Equal(t, 2, analysis.Events[0].DurationFrames)
}

func TestCentralAreaAnnotation(t *testing.T) {
	rois := append(testROIs(), tracking.NamedROI{
		ID: "3", Name: tracking.ROINameCentralArea, CenterX: 100, CenterY: 100, Radius: 10,
	})
	frames := framesWithPath(20, 5, 10) // enters at (100,100), inside central_area
	analysis, err := Detect(frames, rois, Options{FPS: 30})
	require.NoError(t, err)

	require.Len(t, analysis.Events, 1)
	assert.True(t, analysis.Events[0].InCentralArea)
}

func TestDetectIsPure(t *testing.T) {
	frames := framesWithPath(40, 10, 25)
	first, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)
	second, err := Detect(frames, testROIs(), Options{FPS: 30})
	require.NoError(t, err)
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.Statistics, second.Statistics)
}
