package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// namesResponse is the body of the player and world name endpoints.
type namesResponse struct {
	Items []string `json:"items"`
}

// presencesResponse is the body of GET /api/v1/locations/{id}/presences.
type presencesResponse struct {
	Items []history.Presence `json:"items"`
}

// handleLocations handles GET /api/v1/locations.
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLocationFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	page, err := s.history.Locations(r.Context(), filter)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if page.Items == nil {
		page.Items = []history.Location{}
	}
	writeJSON(w, http.StatusOK, page)
}

// parseLocationFilter reads the location query parameters. Times are
// RFC 3339.
func parseLocationFilter(r *http.Request) (store.LocationFilter, error) {
	q := r.URL.Query()
	f := store.LocationFilter{
		Player: q.Get("player"),
		World:  q.Get("world"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid since")
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid until")
		}
		f.Until = &t
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return f, errors.New("until is before since")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		f.Cursor = &v
	}
	return f, nil
}

// handlePresences handles GET /api/v1/locations/{id}/presences.
func (s *Server) handlePresences(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid location id", nil)
		return
	}

	presences, err := s.history.Presences(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if presences == nil {
		presences = []history.Presence{}
	}
	writeJSON(w, http.StatusOK, presencesResponse{Items: presences})
}

// handlePlayers handles GET /api/v1/players.
func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	names, err := s.history.PlayerNames(r.Context())
	writeNames(w, names, err)
}

// handleWorlds handles GET /api/v1/worlds.
func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	names, err := s.history.WorldNames(r.Context())
	writeNames(w, names, err)
}

func writeNames(w http.ResponseWriter, names []string, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, namesResponse{Items: names})
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.status.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
