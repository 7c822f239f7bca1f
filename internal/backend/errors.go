package backend

import (
	"errors"
	"fmt"
)

// ErrResultNotReady is returned when results are requested before the job
// reached the completed status.
var ErrResultNotReady = errors.New("tracking results are not ready")

// ErrTaskNotFound is returned by the backend for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// UploadError means the video (or model) upload step failed. The job never
// reached the backend.
type UploadError struct {
	Video string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for %q: %v", e.Video, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// StartError means the tracking job could not be created on the backend.
type StartError struct {
	Video string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start tracking for %q: %v", e.Video, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// PollError is a transient failure while polling progress. It is logged and
// polling continues; it never terminates a job by itself.
type PollError struct {
	Video  string
	TaskID string
	Err    error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll failed for %q (task %s): %v", e.Video, e.TaskID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// BackendJobError means the backend reported status=error for the job.
// Terminal.
type BackendJobError struct {
	Video   string
	TaskID  string
	Message string
}

func (e *BackendJobError) Error() string {
	return fmt.Sprintf("backend tracking failed for %q (task %s): %s", e.Video, e.TaskID, e.Message)
}
