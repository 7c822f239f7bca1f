package tracking

import (
	"fmt"

	"micetrack/internal/geometry"
)

// DetectionMethod identifies the backend technique that produced a frame's
// position estimate
type DetectionMethod string

const (
	DetectionMethodYOLO     DetectionMethod = "yolo"
	DetectionMethodTemplate DetectionMethod = "template"
	DetectionMethodNone     DetectionMethod = "none"
)

// Keypoint is a single pose keypoint with its detection confidence
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// Frame is one record per processed video frame, produced by the backend
// detector and consumed read-only by this core.
type Frame struct {
	FrameNumber     int             `json:"frame_number"` // 0-based, monotonic
	CentroidX       *float64        `json:"centroid_x"`   // nil when detection_method == none
	CentroidY       *float64        `json:"centroid_y"`
	ROI             *string         `json:"roi,omitempty"` // name of the tracking ROI hit, if any
	ROIIndex        *int            `json:"roi_index,omitempty"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	TimestampSec    float64         `json:"timestamp_sec"`
	BBox            []float64       `json:"bbox,omitempty"` // [x1, y1, x2, y2]
	Confidence      *float64        `json:"confidence,omitempty"`
	Keypoints       []Keypoint      `json:"keypoints,omitempty"`
	Mask            [][2]float64    `json:"mask,omitempty"` // segmentation contour
}

// HasDetection reports whether the frame carries a usable centroid.
func (f *Frame) HasDetection() bool {
	return f.DetectionMethod != DetectionMethodNone && f.CentroidX != nil && f.CentroidY != nil
}

// VideoInfo describes the source video of a tracking run
type VideoInfo struct {
	TotalFrames     int      `json:"total_frames"`
	FPS             float64  `json:"fps"`
	FrameWidth      *int     `json:"frame_width,omitempty"`
	FrameHeight     *int     `json:"frame_height,omitempty"`
	DurationSec     *float64 `json:"duration_sec,omitempty"`
	Codec           *string  `json:"codec,omitempty"`
	FFprobeDuration *float64 `json:"ffprobe_duration,omitempty"`
}

// Statistics summarizes detection quality over a tracking run
type Statistics struct {
	FramesWithoutDetection int     `json:"frames_without_detection"`
	YOLODetections         int     `json:"yolo_detections"`
	TemplateDetections     int     `json:"template_detections"`
	DetectionRate          float64 `json:"detection_rate"`
}

// Result is the tracking result document exchanged with the backend.
// RearingAnalysis is merged in after a detector run; all other fields are
// written once by the backend and never overwritten.
type Result struct {
	VideoName       string           `json:"video_name"`
	ExperimentType  *string          `json:"experiment_type,omitempty"`
	Timestamp       string           `json:"timestamp"`
	VideoInfo       VideoInfo        `json:"video_info"`
	Statistics      Statistics       `json:"statistics"`
	ROIs            geometry.ROIList `json:"rois"`
	TrackingData    []Frame          `json:"tracking_data"`
	RearingAnalysis *RearingAnalysis `json:"rearing_analysis,omitempty"`
}

// RearingEvent is one discrete rearing bout, immutable once created
type RearingEvent struct {
	StartFrame     int  `json:"start_frame"`
	EndFrame       int  `json:"end_frame"`
	DurationFrames int  `json:"duration_frames"`
	InCentralArea  bool `json:"in_central_area,omitempty"` // point was inside central_area at event start
}

// RearingStatistics are the derived statistics of one detector run
type RearingStatistics struct {
	TotalEvents            int     `json:"total_events"`
	TotalDurationSeconds   float64 `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
}

// RearingAnalysis is the block merged into a Result after event detection
type RearingAnalysis struct {
	AnalysisType string            `json:"analysis_type"` // "segmentation" or "pose"
	ROIs         []NamedROI        `json:"rois"`
	Events       []RearingEvent    `json:"events"`
	Statistics   RearingStatistics `json:"statistics"`
}

// NamedROI is a constrained circle-only ROI used for behavioral event
// detection, distinct from the general tracking ROIs.
type NamedROI struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"` // lower_edge, upper_edge or central_area
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
}

// Circle returns the geometric circle of the named ROI.
func (r NamedROI) Circle() geometry.Circle {
	return geometry.Circle{CenterX: r.CenterX, CenterY: r.CenterY, Radius: r.Radius}
}

// Recognized named ROI roles
const (
	ROINameLowerEdge   = "lower_edge"
	ROINameUpperEdge   = "upper_edge"
	ROINameCentralArea = "central_area"
)

// ValidateResult checks a result document at the external boundary before it
// is trusted by the rest of the core.
func ValidateResult(res *Result) error {
	if res.VideoName == "" {
		return fmt.Errorf("result document missing video_name")
	}
	if res.VideoInfo.FPS <= 0 {
		return fmt.Errorf("result %q: fps must be positive (got %g)", res.VideoName, res.VideoInfo.FPS)
	}
	last := -1
	for i := range res.TrackingData {
		f := &res.TrackingData[i]
		if f.FrameNumber <= last {
			return fmt.Errorf("result %q: frame numbers not monotonic at index %d (%d after %d)",
				res.VideoName, i, f.FrameNumber, last)
		}
		last = f.FrameNumber
		switch f.DetectionMethod {
		case DetectionMethodYOLO, DetectionMethodTemplate, DetectionMethodNone:
		default:
			return fmt.Errorf("result %q: frame %d has unknown detection_method %q",
				res.VideoName, f.FrameNumber, f.DetectionMethod)
		}
	}
	return nil
}
