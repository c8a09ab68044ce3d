package api

import (
	"net/http"
)

// handleStats handles GET /api/v1/stats/basic.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.stats.GetBasicStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
