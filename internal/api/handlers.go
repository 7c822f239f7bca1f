package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"micetrack/internal/auth"
	"micetrack/internal/backend"
	"micetrack/internal/geometry"
	"micetrack/internal/rearing"
	"micetrack/internal/tracking"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backendStatus := "ok"
	if err := s.client.Health(r.Context()); err != nil {
		backendStatus = "unreachable"
	}
	respond(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": backendStatus,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expiresAt, err := s.authenticator.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthDisabled):
			respondError(w, http.StatusBadRequest, "authentication is disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.db.ListPresets()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if presets == nil {
		presets = []*geometry.Preset{}
	}
	respond(w, http.StatusOK, presets)
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var preset geometry.Preset
	if err := decodeJSON(r, &preset); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.SavePreset(&preset); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("[API] Preset %q saved (%d ROIs)", preset.PresetName, len(preset.ROIs))
	respond(w, http.StatusOK, &preset)
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.db.GetPreset(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if preset == nil {
		respondError(w, http.StatusNotFound, "preset not found")
		return
	}
	respond(w, http.StatusOK, preset)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeletePreset(chi.URLParam(r, "name")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "preset deleted"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.client.ListModels(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string][]string{"models": models})
}

func (s *Server) handleModelUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	resp, err := s.client.UploadModel(r.Context(), header.Filename, file)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respond(w, http.StatusOK, resp)
}

// handleTrackingStart proxies a single-video tracking start, filling
// configured defaults for fields the caller omitted.
func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	var req backend.TrackingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyTrackingDefaults(&req)
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := s.client.StartTracking(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	log.Printf("[API] Tracking started: task %s for %s", taskID, req.VideoFilename)
	respond(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) applyTrackingDefaults(req *backend.TrackingRequest) {
	if req.ModelName == "" {
		req.ModelName = s.cfg.DefaultModel
	}
	if req.ConfidenceThreshold == 0 {
		req.ConfidenceThreshold = s.cfg.ConfidenceThreshold
	}
	if req.IOUThreshold == 0 {
		req.IOUThreshold = s.cfg.IOUThreshold
	}
	if req.InferenceSize == 0 {
		req.InferenceSize = s.cfg.InferenceSize
	}
}

func (s *Server) handleTrackingProgress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.client.Progress(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, backend.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.client.StopTracking(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		if errors.Is(err, backend.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "tracking stopped"})
}

func (s *Server) handleTrackingResults(w http.ResponseWriter, r *http.Request) {
	raw, _, err := s.client.FetchResults(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrTaskNotFound):
			respondError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, backend.ErrResultNotReady):
			respondError(w, http.StatusBadRequest, "tracking not completed")
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	respondRaw(w, http.StatusOK, raw)
}

type movementRequest struct {
	Document json.RawMessage `json:"document"`
}

func (s *Server) handleAnalysisMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := tracking.DecodeResult(req.Document)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, tracking.AnalyzeMovement(result.TrackingData))
}

type openFieldRequest struct {
	Document     json.RawMessage `json:"document"`
	ArenaCenterX float64         `json:"arena_center_x"`
	ArenaCenterY float64         `json:"arena_center_y"`
	ArenaRadius  float64         `json:"arena_radius"`
}

func (s *Server) handleAnalysisOpenField(w http.ResponseWriter, r *http.Request) {
	var req openFieldRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := tracking.DecodeResult(req.Document)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// No explicit arena: use the first circular ROI from the document.
	if req.ArenaRadius <= 0 {
		for _, roi := range result.ROIs {
			if c, ok := roi.(geometry.Circle); ok {
				req.ArenaCenterX, req.ArenaCenterY, req.ArenaRadius = c.CenterX, c.CenterY, c.Radius
				break
			}
		}
	}
	if req.ArenaRadius <= 0 {
		respondError(w, http.StatusBadRequest, "arena_radius is required when the document has no circular ROI")
		return
	}

	stats := tracking.AnalyzeOpenField(result.TrackingData, req.ArenaCenterX, req.ArenaCenterY, req.ArenaRadius)
	respond(w, http.StatusOK, stats)
}

type rearingRequest struct {
	Document        json.RawMessage      `json:"document"`
	ROIs            []tracking.NamedROI  `json:"rois"`
	FPS             float64              `json:"fps,omitempty"`
	AnalysisType    rearing.AnalysisType `json:"analysis_type,omitempty"`
	KeypointIndices []int                `json:"keypoint_indices,omitempty"`
}

// handleAnalysisRearing runs rearing detection over a result document and
// responds with the document merged with the rearing_analysis section.
func (s *Server) handleAnalysisRearing(w http.ResponseWriter, r *http.Request) {
	var req rearingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := tracking.DecodeResult(req.Document)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	fps := req.FPS
	if fps <= 0 {
		fps = result.VideoInfo.FPS
	}
	if fps <= 0 {
		fps = s.cfg.FPS
	}
	analysisType := req.AnalysisType
	if analysisType == "" {
		analysisType = rearing.AnalysisSegmentation
	}

	analysis, err := rearing.Detect(result.TrackingData, req.ROIs, rearing.Options{
		FPS:             fps,
		AnalysisType:    analysisType,
		KeypointIndices: req.KeypointIndices,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.RearingEventsDetected.Add(uint64(len(analysis.Events)))

	merged, err := tracking.MergeRearingAnalysis(req.Document, analysis)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, merged)
}
