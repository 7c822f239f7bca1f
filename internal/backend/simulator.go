package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"micetrack/internal/tracking"
)

// SimulatorConfig tunes the in-process backend simulator
type SimulatorConfig struct {
	TotalFrames   int
	VideoFrames   map[string]int // per-video TotalFrames override
	FPS           float64
	FrameInterval time.Duration // simulated processing time per frame
	Device        string
	// PathFunc produces the synthetic centroid for a frame. Returning
	// ok=false yields a frame without detection. Nil selects a circular
	// default path.
	PathFunc func(frame int) (x, y float64, ok bool)
	// FailAtFrame makes tasks fail once they reach this frame. Negative
	// disables failure injection. When FailVideo is set only tasks for
	// that video fail.
	FailAtFrame int
	FailVideo   string
	FailMessage string
}

// DefaultSimulatorConfig returns a configuration suitable for interactive use.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		TotalFrames:   300,
		FPS:           30,
		FrameInterval: 10 * time.Millisecond,
		Device:        "cpu",
		FailAtFrame:   -1,
	}
}

type simTask struct {
	request      TrackingRequest
	currentFrame int
	totalFrames  int
	status       Status
	stopped      bool
	errMsg       string
	result       []byte
}

// Simulator is an in-process stand-in for the backend tracking service. It
// implements the same REST surface, letting the service and tests run
// without the real YOLO backend.
type Simulator struct {
	cfg    SimulatorConfig
	router chi.Router

	mu     sync.Mutex
	tasks  map[string]*simTask
	models map[string]bool
	videos map[string]bool
}

// NewSimulator creates a simulator with one preloaded model.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.TotalFrames <= 0 {
		cfg.TotalFrames = 300
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	s := &Simulator{
		cfg:    cfg,
		tasks:  make(map[string]*simTask),
		models: map[string]bool{"yolov11s_pose.pt": true},
		videos: make(map[string]bool),
	}
	r := chi.NewRouter()
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/video/upload", s.handleVideoUpload)
	r.Get("/api/tracking/models", s.handleListModels)
	r.Post("/api/tracking/models/upload", s.handleModelUpload)
	r.Post("/api/tracking/start", s.handleStart)
	r.Get("/api/tracking/progress/{taskID}", s.handleProgress)
	r.Post("/api/tracking/stop/{taskID}", s.handleStop)
	r.Get("/api/tracking/results/{taskID}", s.handleResults)
	s.router = r
	return s
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Simulator) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok", "device": s.cfg.Device})
}

func (s *Simulator) handleVideoUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
		return
	}
	defer file.Close()
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeEnvelopeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	s.videos[header.Filename] = true
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, UploadResponse{
		Filename: header.Filename,
		Path:     "temp/videos/" + header.Filename,
		Size:     size,
	})
}

func (s *Simulator) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	models := make([]string, 0, len(s.models))
	for m := range s.models {
		models = append(models, m)
	}
	s.mu.Unlock()
	sort.Strings(models)
	writeEnvelope(w, http.StatusOK, map[string][]string{"models": models})
}

func (s *Simulator) handleModelUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
		return
	}
	defer file.Close()
	if filepath.Ext(header.Filename) != ".pt" {
		writeEnvelopeError(w, http.StatusBadRequest, "only .pt files are allowed")
		return
	}
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeEnvelopeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	s.models[header.Filename] = true
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, UploadResponse{
		Filename: header.Filename,
		Path:     "temp/models/" + header.Filename,
		Size:     size,
	})
}

func (s *Simulator) handleStart(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}

	totalFrames := s.cfg.TotalFrames
	if n, ok := s.cfg.VideoFrames[req.VideoFilename]; ok {
		totalFrames = n
	}
	taskID := uuid.New().String()
	task := &simTask{
		request:     req,
		totalFrames: totalFrames,
		status:      StatusProcessing,
	}
	s.mu.Lock()
	s.tasks[taskID] = task
	s.mu.Unlock()

	go s.runTask(taskID, task)
	log.Printf("[Simulator] Task %s started for %s", taskID, req.VideoFilename)
	writeEnvelope(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// runTask mimics the backend's background tracking loop: advance frame by
// frame, honor stop requests, optionally inject a failure, then assemble the
// result document.
func (s *Simulator) runTask(taskID string, task *simTask) {
	for frame := 0; frame < task.totalFrames; frame++ {
		time.Sleep(s.cfg.FrameInterval)

		s.mu.Lock()
		if task.stopped {
			task.status = StatusStopped
			s.mu.Unlock()
			return
		}
		failTarget := s.cfg.FailVideo == "" || s.cfg.FailVideo == task.request.VideoFilename
		if s.cfg.FailAtFrame >= 0 && failTarget && frame >= s.cfg.FailAtFrame {
			task.status = StatusError
			task.errMsg = s.cfg.FailMessage
			if task.errMsg == "" {
				task.errMsg = "simulated tracking failure"
			}
			s.mu.Unlock()
			return
		}
		task.currentFrame = frame + 1
		s.mu.Unlock()
	}

	result, err := s.buildResult(task)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		task.status = StatusError
		task.errMsg = err.Error()
		return
	}
	task.result = result
	task.status = StatusCompleted
}

func (s *Simulator) buildResult(task *simTask) ([]byte, error) {
	total := task.totalFrames
	path := s.cfg.PathFunc
	if path == nil {
		// Default: circle around the preset frame center.
		cx := float64(task.request.ROIs.FrameWidth) / 2
		cy := float64(task.request.ROIs.FrameHeight) / 2
		path = func(frame int) (float64, float64, bool) {
			angle := 2 * math.Pi * float64(frame) / float64(total)
			return cx + 100*math.Cos(angle), cy + 100*math.Sin(angle), true
		}
	}

	frames := make([]tracking.Frame, 0, total)
	detected := 0
	for i := 0; i < total; i++ {
		f := tracking.Frame{
			FrameNumber:     i,
			DetectionMethod: tracking.DetectionMethodNone,
			TimestampSec:    float64(i) / s.cfg.FPS,
		}
		if x, y, ok := path(i); ok {
			f.CentroidX = &x
			f.CentroidY = &y
			f.DetectionMethod = tracking.DetectionMethodYOLO
			conf := 0.9
			f.Confidence = &conf
			detected++
		}
		frames = append(frames, f)
	}

	duration := float64(total) / s.cfg.FPS
	codec := "h264"
	res := tracking.Result{
		VideoName: task.request.VideoFilename,
		Timestamp: time.Now().Format(time.RFC3339),
		VideoInfo: tracking.VideoInfo{
			TotalFrames: total,
			FPS:         s.cfg.FPS,
			DurationSec: &duration,
			Codec:       &codec,
		},
		Statistics: tracking.Statistics{
			FramesWithoutDetection: total - detected,
			YOLODetections:         detected,
			DetectionRate:          float64(detected) / float64(total),
		},
		ROIs:         task.request.ROIs.ROIs,
		TrackingData: frames,
	}
	return json.Marshal(&res)
}

func (s *Simulator) handleProgress(w http.ResponseWriter, r *http.Request) {
	task, ok := s.task(chi.URLParam(r, "taskID"))
	if !ok {
		writeEnvelopeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.mu.Lock()
	snapshot := ProgressSnapshot{
		CurrentFrame: task.currentFrame,
		TotalFrames:  task.totalFrames,
		Percentage:   float64(task.currentFrame) / float64(task.totalFrames) * 100,
		Status:       task.status,
	}
	if task.errMsg != "" {
		msg := task.errMsg
		snapshot.Error = &msg
	}
	device := s.cfg.Device
	snapshot.Device = &device
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, snapshot)
}

func (s *Simulator) handleStop(w http.ResponseWriter, r *http.Request) {
	task, ok := s.task(chi.URLParam(r, "taskID"))
	if !ok {
		writeEnvelopeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.mu.Lock()
	task.stopped = true
	if !task.status.Terminal() {
		task.status = StatusStopped
	}
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, map[string]string{"message": "tracking stopped"})
}

func (s *Simulator) handleResults(w http.ResponseWriter, r *http.Request) {
	task, ok := s.task(chi.URLParam(r, "taskID"))
	if !ok {
		writeEnvelopeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.mu.Lock()
	status := task.status
	result := task.result
	s.mu.Unlock()
	if status != StatusCompleted || result == nil {
		writeEnvelopeError(w, http.StatusBadRequest, "tracking not completed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (s *Simulator) task(id string) (*simTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeEnvelopeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: body})
}

func writeEnvelopeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Envelope{Success: false, Error: msg})
}
