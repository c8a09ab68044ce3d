package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/graaaaa/vrclog-lifelog/internal/app"
)

// maxConfigBody caps PUT /api/v1/config request bodies.
const maxConfigBody = 64 << 10

// handleGetConfig handles GET /api/v1/config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.GetConfig(r.Context()))
}

// handlePutConfig handles PUT /api/v1/config.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBody)

	var req app.ConfigUpdateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.cfg.UpdateConfig(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), app.ErrInvalidConfig.Error()+": "), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
