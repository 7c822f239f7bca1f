package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"micetrack/internal/backend"
)

// respond writes a success envelope with the given payload
func respond(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, code, body)
}

// respondRaw writes a success envelope around pre-marshaled JSON
func respondRaw(w http.ResponseWriter, code int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(backend.Envelope{Success: true, Data: data})
}

// respondError writes a failure envelope
func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(backend.Envelope{Success: false, Error: msg})
}

// decodeJSON decodes a request body, rejecting unknown fields so typos in
// client payloads fail loudly instead of silently using defaults.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
