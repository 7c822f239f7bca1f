package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"micetrack/internal/backend"
	"micetrack/internal/batch"
	"micetrack/internal/database"
	"micetrack/internal/geometry"
)

var errNoPreset = errors.New("preset or preset_name is required")

func errPresetNotFound(name string) error {
	return fmt.Errorf("preset %q not found", name)
}

type batchStartRequest struct {
	Videos []string `json:"videos"`

	// ROIs come from a stored preset or inline; preset_name wins.
	PresetName string           `json:"preset_name,omitempty"`
	Preset     *geometry.Preset `json:"preset,omitempty"`

	ModelName           string  `json:"model_name,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	IOUThreshold        float64 `json:"iou_threshold,omitempty"`
	InferenceSize       int     `json:"inference_size,omitempty"`
}

func (s *Server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	var req batchStartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Videos) == 0 {
		respondError(w, http.StatusBadRequest, "videos is required")
		return
	}

	preset, err := s.resolvePreset(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := backend.JobConfig{
		ModelName:           req.ModelName,
		Preset:              *preset,
		ConfidenceThreshold: req.ConfidenceThreshold,
		IOUThreshold:        req.IOUThreshold,
		InferenceSize:       req.InferenceSize,
		PollInterval:        s.cfg.PollInterval(),
	}
	if cfg.ModelName == "" {
		cfg.ModelName = s.cfg.DefaultModel
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = s.cfg.ConfidenceThreshold
	}
	if cfg.IOUThreshold == 0 {
		cfg.IOUThreshold = s.cfg.IOUThreshold
	}
	if cfg.InferenceSize == 0 {
		cfg.InferenceSize = s.cfg.InferenceSize
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if s.running {
		respondError(w, http.StatusConflict, "a batch is already running")
		return
	}

	o := batch.NewOrchestrator(s.client, cfg, s.bus)
	if err := o.Enqueue(req.Videos...); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.current = o
	s.running = true

	go s.runBatch(o)

	log.Printf("[API] Batch %s started with %d videos", o.BatchID(), len(req.Videos))
	respond(w, http.StatusAccepted, map[string]string{"batch_id": o.BatchID()})
}

func (s *Server) resolvePreset(req *batchStartRequest) (*geometry.Preset, error) {
	if req.PresetName != "" {
		preset, err := s.db.GetPreset(req.PresetName)
		if err != nil {
			return nil, err
		}
		if preset == nil {
			return nil, errPresetNotFound(req.PresetName)
		}
		return preset, nil
	}
	if req.Preset == nil {
		return nil, errNoPreset
	}
	if err := req.Preset.Validate(); err != nil {
		return nil, err
	}
	return req.Preset, nil
}

// runBatch drives the orchestrator to completion on its own goroutine and
// archives every item's outcome. The batch stays "running" until the archive
// is written, so a not-running status implies the runs are queryable.
func (s *Server) runBatch(o *batch.Orchestrator) {
	report, err := o.Run(context.Background())
	if err != nil {
		log.Printf("[API] Batch %s aborted: %v", o.BatchID(), err)
	} else {
		s.archiveReport(report)
		log.Printf("[API] Batch %s finished: %d succeeded, %d failed, %d stopped",
			report.BatchID, report.Succeeded, report.Failed, report.Stopped)
	}

	s.batchMu.Lock()
	s.running = false
	if report != nil {
		s.lastReport = report
	}
	s.batchMu.Unlock()
}

func (s *Server) archiveReport(report *batch.Report) {
	docs := make(map[string][]byte, len(report.Results))
	for _, res := range report.Results {
		docs[res.TaskID] = res.Raw
	}

	for _, item := range report.Items {
		if item.Outcome == batch.OutcomePending {
			continue
		}
		run := &database.AnalysisRunRecord{
			ID:        uuid.New().String(),
			BatchID:   report.BatchID,
			VideoName: item.VideoName,
			TaskID:    item.TaskID,
			Outcome:   string(item.Outcome),
			Error:     item.Error,
			CreatedAt: time.Now().UTC(),
			Document:  docs[item.TaskID],
		}
		if err := s.db.SaveAnalysisRun(run); err != nil {
			log.Printf("[API] Failed to archive run for %s: %v", item.VideoName, err)
			continue
		}
		s.metrics.RunsArchived.Add(1)
	}
}

func (s *Server) handleBatchStop(w http.ResponseWriter, r *http.Request) {
	s.batchMu.Lock()
	o := s.current
	running := s.running
	s.batchMu.Unlock()

	if !running || o == nil {
		respondError(w, http.StatusConflict, "no batch is running")
		return
	}
	o.Stop()
	respond(w, http.StatusOK, map[string]string{"message": "stop requested", "batch_id": o.BatchID()})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	s.batchMu.Lock()
	o := s.current
	running := s.running
	lastReport := s.lastReport
	s.batchMu.Unlock()

	status := map[string]any{"running": running}
	if o != nil {
		status["batch_id"] = o.BatchID()
		status["items"] = o.Snapshot()
	}
	if !running && lastReport != nil {
		status["report"] = lastReport
	}
	respond(w, http.StatusOK, status)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListAnalysisRuns(r.URL.Query().Get("batch_id"), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type runSummary struct {
		ID        string    `json:"id"`
		BatchID   string    `json:"batch_id"`
		VideoName string    `json:"video_name"`
		TaskID    string    `json:"task_id,omitempty"`
		Outcome   string    `json:"outcome"`
		Error     string    `json:"error,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary{
			ID:        run.ID,
			BatchID:   run.BatchID,
			VideoName: run.VideoName,
			TaskID:    run.TaskID,
			Outcome:   run.Outcome,
			Error:     run.Error,
			CreatedAt: run.CreatedAt,
		})
	}
	respond(w, http.StatusOK, summaries)
}

// handleGetRun returns the archived result document of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetAnalysisRun(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if len(run.Document) == 0 {
		respondError(w, http.StatusNotFound, "run has no result document")
		return
	}
	respondRaw(w, http.StatusOK, run.Document)
}
