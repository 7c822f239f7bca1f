package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Application settings are free-form key/value pairs persisted across
// restarts (UI preferences, last used model, default preset name).

type settingValue struct {
	Value string `json:"value"`
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.ListConfigs()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, settings)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.db.GetConfig(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if value == "" {
		respondError(w, http.StatusNotFound, fmt.Sprintf("setting %q not found", key))
		return
	}
	respond(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req settingValue
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value == "" {
		respondError(w, http.StatusBadRequest, "value is required")
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.db.SaveConfig(key, req.Value); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[API] Setting %q updated", key)
	respond(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteConfig(chi.URLParam(r, "key")); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "setting deleted"})
}
