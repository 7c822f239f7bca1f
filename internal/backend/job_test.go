package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobConfig() JobConfig {
	return JobConfig{
		ModelName:           "yolov11s_pose.pt",
		Preset:              testPreset(),
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.45,
		InferenceSize:       640,
		PollInterval:        time.Millisecond,
	}
}

func newTestJob(client *Client, video string, onProgress ProgressFunc) *Job {
	j := NewJob(client, video, onProgress)
	j.openVideo = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("fake video bytes")), nil
	}
	return j
}

func TestJobRunToCompletion(t *testing.T) {
	srv := httptest.NewServer(fastSimulator(20))
	defer srv.Close()

	var mu sync.Mutex
	var percentages []float64
	var frames []int
	job := newTestJob(NewClient(srv.URL, 5*time.Second), "videos/mice01.mp4", func(s Snapshot) {
		mu.Lock()
		percentages = append(percentages, s.Percentage)
		frames = append(frames, s.CurrentFrame)
		mu.Unlock()
	})

	require.NoError(t, job.Run(context.Background(), testJobConfig()))
	assert.Equal(t, StatusCompleted, job.Status())
	assert.NotEmpty(t, job.TaskID())

	raw, res, err := job.Result()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, "mice01.mp4", res.VideoName)

	// Reported progress never decreases.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(percentages); i++ {
		assert.GreaterOrEqual(t, percentages[i], percentages[i-1])
		assert.GreaterOrEqual(t, frames[i], frames[i-1])
	}
	assert.Positive(t, frames[len(frames)-1], "snapshots carry the backend's current frame")
}

func TestJobResultBeforeCompletion(t *testing.T) {
	job := newTestJob(NewClient("http://unused.invalid", time.Second), "mice01.mp4", nil)
	_, _, err := job.Result()
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestJobCancelTerminatesAsStopped(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.TotalFrames = 10000
	cfg.FrameInterval = time.Millisecond
	srv := httptest.NewServer(NewSimulator(cfg))
	defer srv.Close()

	job := newTestJob(NewClient(srv.URL, 5*time.Second), "mice01.mp4", nil)

	done := make(chan error, 1)
	go func() { done <- job.Run(context.Background(), testJobConfig()) }()

	// Wait until the job is actually tracking, then cancel.
	require.Eventually(t, func() bool { return job.Status() == StatusTracking },
		2*time.Second, time.Millisecond)
	job.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "a user stop must never surface as a failure")
	case <-time.After(5 * time.Second):
		t.Fatal("job did not terminate after cancel")
	}
	assert.Equal(t, StatusStopped, job.Status())

	_, _, err := job.Result()
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestJobBackendFailure(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.TotalFrames = 50
	cfg.FrameInterval = time.Millisecond
	cfg.FailAtFrame = 10
	cfg.FailMessage = "CUDA out of memory"
	srv := httptest.NewServer(NewSimulator(cfg))
	defer srv.Close()

	job := newTestJob(NewClient(srv.URL, 5*time.Second), "mice01.mp4", nil)
	err := job.Run(context.Background(), testJobConfig())

	var berr *BackendJobError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "mice01.mp4", berr.Video)
	assert.Equal(t, job.TaskID(), berr.TaskID)
	assert.Contains(t, berr.Message, "CUDA out of memory")
	assert.Equal(t, StatusError, job.Status())
}

func TestJobUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelopeError(w, http.StatusInternalServerError, "disk full")
	}))
	defer srv.Close()

	job := newTestJob(NewClient(srv.URL, time.Second), "mice01.mp4", nil)
	err := job.Run(context.Background(), testJobConfig())

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "mice01.mp4", uerr.Video)
	assert.Equal(t, StatusError, job.Status())
}

func TestJobStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/video/upload") {
			writeEnvelope(w, http.StatusOK, UploadResponse{Filename: "mice01.mp4"})
			return
		}
		writeEnvelopeError(w, http.StatusInternalServerError, "model not found")
	}))
	defer srv.Close()

	job := newTestJob(NewClient(srv.URL, time.Second), "mice01.mp4", nil)
	err := job.Run(context.Background(), testJobConfig())

	var serr *StartError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "model not found")
}

// A backend that reports noisy, non-monotonic percentages and fails one poll
// with a 500. The job must keep polling and clamp reported progress.
func TestJobPollErrorAndNoisyProgress(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	percentages := []float64{50, 30, 70}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/video/upload", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, UploadResponse{Filename: "mice01.mp4"})
	})
	mux.HandleFunc("/api/tracking/start", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"task_id": "task-1"})
	})
	mux.HandleFunc("/api/tracking/results/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"video_name":    "mice01.mp4",
			"timestamp":     "2025-03-01T10:00:00",
			"video_info":    map[string]any{"total_frames": 0, "fps": 30},
			"statistics":    map[string]any{"frames_without_detection": 0, "yolo_detections": 0, "template_detections": 0, "detection_rate": 0},
			"rois":          []any{},
			"tracking_data": []any{},
		})
	})
	mux.HandleFunc("/api/tracking/progress/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n := polls
		polls++
		mu.Unlock()
		switch {
		case n == 1:
			// One transient failure mid-polling.
			http.Error(w, "bad gateway", http.StatusBadGateway)
		case n < len(percentages)+1:
			idx := n
			if n > 1 {
				idx = n - 1
			}
			writeEnvelope(w, http.StatusOK, ProgressSnapshot{
				Percentage: percentages[idx],
				Status:     StatusProcessing,
			})
		default:
			writeEnvelope(w, http.StatusOK, ProgressSnapshot{Percentage: 100, Status: StatusCompleted})
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var pmu sync.Mutex
	var observed []float64
	job := newTestJob(NewClient(srv.URL, time.Second), "mice01.mp4", func(s Snapshot) {
		pmu.Lock()
		observed = append(observed, s.Percentage)
		pmu.Unlock()
	})

	require.NoError(t, job.Run(context.Background(), testJobConfig()))
	assert.Equal(t, StatusCompleted, job.Status())

	pmu.Lock()
	defer pmu.Unlock()
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1],
			fmt.Sprintf("progress regressed at observation %d: %v", i, observed))
	}
}
