package backend

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"micetrack/internal/geometry"
	"micetrack/internal/tracking"
)

// DefaultPollInterval is the fixed progress polling interval. It is
// sub-second and independent of job duration.
const DefaultPollInterval = 500 * time.Millisecond

// JobConfig is the per-batch configuration shared by every job
type JobConfig struct {
	ModelName           string
	Preset              geometry.Preset
	ConfidenceThreshold float64
	IOUThreshold        float64
	InferenceSize       int
	PollInterval        time.Duration
}

// Snapshot is the externally visible state of a job
type Snapshot struct {
	VideoName    string  `json:"video_name"`
	TaskID       string  `json:"task_id,omitempty"`
	Status       Status  `json:"status"`
	Percentage   float64 `json:"percentage"`
	CurrentFrame int     `json:"current_frame"`
	TotalFrames  int     `json:"total_frames,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// ProgressFunc observes job lifecycle and progress changes
type ProgressFunc func(Snapshot)

// Job owns the full lifecycle of exactly one video against the backend:
// upload, start, poll until terminal, fetch results. All network requests are
// issued from the goroutine running Run, so there is at most one in-flight
// request per job at any time. Cancellation is cooperative: Cancel sets a
// flag that the poll loop observes between requests.
type Job struct {
	client     *Client
	videoPath  string
	videoName  string
	onProgress ProgressFunc
	sleep      func(context.Context, time.Duration) error
	openVideo  func() (io.ReadCloser, error)

	mu            sync.Mutex
	status        Status
	percentage    float64
	currentFrame  int
	totalFrames   int
	taskID        string
	resultRaw     []byte
	result        *tracking.Result
	err           error
	stopRequested bool
}

// NewJob creates a job for one video file. onProgress may be nil.
func NewJob(client *Client, videoPath string, onProgress ProgressFunc) *Job {
	j := &Job{
		client:     client,
		videoPath:  videoPath,
		videoName:  filepath.Base(videoPath),
		onProgress: onProgress,
		sleep:      sleepCtx,
	}
	j.openVideo = func() (io.ReadCloser, error) { return os.Open(videoPath) }
	j.status = StatusPending
	return j
}

// VideoName returns the base name of the job's video.
func (j *Job) VideoName() string { return j.videoName }

// Snapshot returns the current state of the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{
		VideoName:    j.videoName,
		TaskID:       j.taskID,
		Status:       j.status,
		Percentage:   j.percentage,
		CurrentFrame: j.currentFrame,
		TotalFrames:  j.totalFrames,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

// TaskID returns the backend task id, empty until the job started.
func (j *Job) TaskID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.taskID
}

// Status returns the current lifecycle status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Cancel requests a cooperative stop. The poll loop tells the backend to
// stop the task and the job terminates with StatusStopped, which is never
// reported as a failure.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopRequested = true
}

// Result returns the raw and decoded result document. It fails with
// ErrResultNotReady unless the job completed; it never returns partial data.
func (j *Job) Result() ([]byte, *tracking.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCompleted {
		return nil, nil, fmt.Errorf("job %q (status %s): %w", j.videoName, j.status, ErrResultNotReady)
	}
	return j.resultRaw, j.result, nil
}

// Run drives the job to a terminal state. It returns an error only for
// failures (UploadError, StartError, BackendJobError, context cancellation);
// a user-requested stop terminates the job with StatusStopped and a nil
// error. Run must be called at most once.
func (j *Job) Run(ctx context.Context, cfg JobConfig) error {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// Upload.
	j.setStatus(StatusUploading)
	if err := j.uploadVideo(ctx); err != nil {
		uerr := &UploadError{Video: j.videoName, Err: err}
		j.fail(uerr)
		return uerr
	}

	// Start.
	taskID, err := j.client.StartTracking(ctx, &TrackingRequest{
		VideoFilename:       j.videoName,
		ModelName:           cfg.ModelName,
		ROIs:                cfg.Preset,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IOUThreshold:        cfg.IOUThreshold,
		InferenceSize:       cfg.InferenceSize,
	})
	if err != nil {
		serr := &StartError{Video: j.videoName, Err: err}
		j.fail(serr)
		return serr
	}
	j.mu.Lock()
	j.taskID = taskID
	j.mu.Unlock()
	j.setStatus(StatusTracking)
	log.Printf("[Job] Tracking started for %s (task %s)", j.videoName, taskID)

	// Poll until terminal.
	for {
		if j.stopping() {
			return j.stopBackend(ctx, taskID)
		}

		snapshot, err := j.client.Progress(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				j.fail(ctx.Err())
				return ctx.Err()
			}
			// Transient: log and keep polling.
			perr := &PollError{Video: j.videoName, TaskID: taskID, Err: err}
			log.Printf("[Job] %v", perr)
		} else {
			j.observeProgress(snapshot)

			switch snapshot.Status {
			case StatusCompleted:
				return j.fetchResults(ctx, taskID)
			case StatusError:
				msg := "unknown backend error"
				if snapshot.Error != nil {
					msg = *snapshot.Error
				}
				berr := &BackendJobError{Video: j.videoName, TaskID: taskID, Message: msg}
				j.fail(berr)
				return berr
			case StatusStopped:
				// Backend-side stop (e.g. cancel raced with polling).
				j.setStatus(StatusStopped)
				return nil
			}
		}

		if err := j.sleep(ctx, interval); err != nil {
			j.fail(err)
			return err
		}
	}
}

func (j *Job) uploadVideo(ctx context.Context) error {
	f, err := j.openVideo()
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = j.client.UploadVideo(ctx, j.videoName, f)
	return err
}

func (j *Job) fetchResults(ctx context.Context, taskID string) error {
	raw, res, err := j.client.FetchResults(ctx, taskID)
	if err != nil {
		berr := &BackendJobError{Video: j.videoName, TaskID: taskID, Message: err.Error()}
		j.fail(berr)
		return berr
	}
	j.mu.Lock()
	j.resultRaw = raw
	j.result = res
	j.percentage = 100
	j.mu.Unlock()
	j.setStatus(StatusCompleted)
	log.Printf("[Job] Completed %s (task %s, %d frames)", j.videoName, taskID, len(res.TrackingData))
	return nil
}

// stopBackend tells the backend to stop the task and terminates the job as
// stopped. A stop failure is logged but the job still terminates as stopped;
// the user asked for it.
func (j *Job) stopBackend(ctx context.Context, taskID string) error {
	if err := j.client.StopTracking(ctx, taskID); err != nil {
		log.Printf("[Job] Failed to stop task %s on backend: %v", taskID, err)
	}
	j.setStatus(StatusStopped)
	log.Printf("[Job] Stopped %s (task %s) on user request", j.videoName, taskID)
	return nil
}

func (j *Job) stopping() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopRequested
}

// observeProgress records a progress snapshot, clamped so reported progress
// never decreases even if the backend is noisy.
func (j *Job) observeProgress(snap *ProgressSnapshot) {
	j.mu.Lock()
	if snap.Percentage > j.percentage {
		j.percentage = snap.Percentage
	}
	if snap.CurrentFrame > j.currentFrame {
		j.currentFrame = snap.CurrentFrame
	}
	if snap.TotalFrames > j.totalFrames {
		j.totalFrames = snap.TotalFrames
	}
	j.mu.Unlock()
	j.notify()
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
	j.notify()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.status = StatusError
	j.mu.Unlock()
	j.notify()
}

func (j *Job) notify() {
	if j.onProgress != nil {
		j.onProgress(j.Snapshot())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
