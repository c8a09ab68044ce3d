package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the JSON body of every API error.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v into a buffer first so an encoding failure can still
// produce a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// writeError writes a JSON error. public is what clients see; err is only
// logged, and only for 5xx.
func writeError(w http.ResponseWriter, status int, public string, err error) {
	if public == "" {
		public = http.StatusText(status)
	}
	if status >= 500 && err != nil {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: public})
}
