// Package rearing turns raw per-frame tracking positions into discrete
// rearing events by testing detection points against a named ROI set.
package rearing

import (
	"errors"
	"fmt"

	"micetrack/internal/tracking"
)

// AnalysisType selects how the detection point is derived from a frame
type AnalysisType string

const (
	// AnalysisSegmentation uses the frame centroid as the detection point.
	AnalysisSegmentation AnalysisType = "segmentation"
	// AnalysisPose picks the first configured keypoint whose confidence
	// exceeds the threshold.
	AnalysisPose AnalysisType = "pose"
)

// minKeypointConf is the confidence a pose keypoint needs to count as a
// detection for the frame.
const minKeypointConf = 0.5

// ErrInsufficientROIs is returned before any frame is processed when the
// named ROI set cannot drive the state machine.
var ErrInsufficientROIs = errors.New("rearing detection requires at least 2 named ROIs including upper_edge")

// Options configure one detector run
type Options struct {
	FPS             float64
	AnalysisType    AnalysisType
	KeypointIndices []int // candidate keypoint indices for pose data, in priority order
}

type state int

const (
	stateOutside state = iota
	stateInside
)

// Detect runs the rearing state machine over the frames in order and returns
// the completed analysis. It is a pure function of its inputs: no state
// survives between runs, so the same frames can be re-analyzed with different
// ROI placements.
//
// Transition rules, evaluated once per frame:
//   - the point enters upper_edge while OUTSIDE: an event starts;
//   - the point leaves upper_edge while INSIDE: the event closes at that frame;
//   - a frame without a detection changes nothing. Detector dropout is
//     treated as "position unknown", not as leaving the ROI, so a flaky
//     detector cannot split one bout into many.
//
// A bout still open at the last frame is closed at that frame rather than
// dropped; the animal was observed rearing until the video ended.
func Detect(frames []tracking.Frame, rois []tracking.NamedROI, opts Options) (*tracking.RearingAnalysis, error) {
	upper, central, err := classifyROIs(rois)
	if err != nil {
		return nil, err
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive (got %g)", opts.FPS)
	}
	if opts.AnalysisType == "" {
		opts.AnalysisType = AnalysisSegmentation
	}

	upperCircle := upper.Circle()

	var (
		events     []tracking.RearingEvent
		st         = stateOutside
		startFrame int
		startInCA  bool
		lastFrame  int
	)

	for i := range frames {
		f := &frames[i]
		lastFrame = f.FrameNumber

		x, y, ok := detectionPoint(f, opts)
		if !ok {
			continue // unknown position, state unchanged
		}

		inside := upperCircle.Contains(x, y)
		switch st {
		case stateOutside:
			if inside {
				st = stateInside
				startFrame = f.FrameNumber
				startInCA = central != nil && central.Circle().Contains(x, y)
			}
		case stateInside:
			if !inside {
				st = stateOutside
				events = append(events, tracking.RearingEvent{
					StartFrame:     startFrame,
					EndFrame:       f.FrameNumber,
					DurationFrames: f.FrameNumber - startFrame,
					InCentralArea:  startInCA,
				})
			}
		}
	}

	// Auto-close a trailing open bout at the last processed frame.
	if st == stateInside {
		events = append(events, tracking.RearingEvent{
			StartFrame:     startFrame,
			EndFrame:       lastFrame,
			DurationFrames: lastFrame - startFrame,
			InCentralArea:  startInCA,
		})
	}

	return &tracking.RearingAnalysis{
		AnalysisType: string(opts.AnalysisType),
		ROIs:         rois,
		Events:       events,
		Statistics:   computeStatistics(events, opts.FPS),
	}, nil
}

// classifyROIs validates the named ROI set. upper_edge is mandatory and at
// least two ROIs are required; lower_edge and central_area are auxiliary and
// never drive transitions on their own.
func classifyROIs(rois []tracking.NamedROI) (upper, central *tracking.NamedROI, err error) {
	for i := range rois {
		switch rois[i].Name {
		case tracking.ROINameUpperEdge:
			upper = &rois[i]
		case tracking.ROINameCentralArea:
			central = &rois[i]
		}
	}
	if upper == nil || len(rois) < 2 {
		return nil, nil, ErrInsufficientROIs
	}
	return upper, central, nil
}

// detectionPoint derives the per-frame detection point. For pose data the
// first configured keypoint index with sufficient confidence wins; otherwise
// the frame counts as having no detection.
func detectionPoint(f *tracking.Frame, opts Options) (x, y float64, ok bool) {
	if opts.AnalysisType == AnalysisPose {
		for _, idx := range opts.KeypointIndices {
			if idx < 0 || idx >= len(f.Keypoints) {
				continue
			}
			kp := f.Keypoints[idx]
			if kp.Conf > minKeypointConf {
				return kp.X, kp.Y, true
			}
		}
		return 0, 0, false
	}
	if !f.HasDetection() {
		return 0, 0, false
	}
	return *f.CentroidX, *f.CentroidY, true
}

func computeStatistics(events []tracking.RearingEvent, fps float64) tracking.RearingStatistics {
	stats := tracking.RearingStatistics{TotalEvents: len(events)}
	totalFrames := 0
	for _, ev := range events {
		totalFrames += ev.DurationFrames
	}
	stats.TotalDurationSeconds = float64(totalFrames) / fps
	if len(events) > 0 {
		stats.AverageDurationSeconds = stats.TotalDurationSeconds / float64(len(events))
	}
	return stats
}
