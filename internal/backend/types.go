package backend

import (
	"encoding/json"
	"fmt"

	"micetrack/internal/geometry"
)

// Status is the lifecycle status of a tracking job
type Status string

const (
	StatusPending Status = "pending"
	// StatusProcessing is the backend wire value for a job that is still
	// running; the job client reports it as StatusTracking.
	StatusProcessing Status = "processing"
	StatusUploading  Status = "uploading"
	StatusTracking   Status = "tracking"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusStopped    Status = "stopped"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusStopped
}

// TrackingRequest is the job creation payload sent to the backend
type TrackingRequest struct {
	VideoFilename       string          `json:"video_filename"`
	ModelName           string          `json:"model_name"`
	ROIs                geometry.Preset `json:"rois"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	IOUThreshold        float64         `json:"iou_threshold"`
	InferenceSize       int             `json:"inference_size"` // YOLO inference image size
}

// Validate checks the threshold ranges before the request leaves the client.
func (r *TrackingRequest) Validate() error {
	if r.VideoFilename == "" {
		return fmt.Errorf("video_filename is required")
	}
	if r.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold >= 1 {
		return fmt.Errorf("confidence_threshold must be in (0,1) (got %g)", r.ConfidenceThreshold)
	}
	if r.IOUThreshold <= 0 || r.IOUThreshold >= 1 {
		return fmt.Errorf("iou_threshold must be in (0,1) (got %g)", r.IOUThreshold)
	}
	return nil
}

// ProgressSnapshot is one observation of a running backend job
type ProgressSnapshot struct {
	CurrentFrame int     `json:"current_frame"`
	TotalFrames  int     `json:"total_frames"`
	Percentage   float64 `json:"percentage"`
	Status       Status  `json:"status"` // processing, completed, error or stopped
	Device       *string `json:"device,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// UploadResponse describes a stored upload
type UploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Envelope is the {success, data, error} wrapper the backend puts around
// every JSON response except result documents.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
