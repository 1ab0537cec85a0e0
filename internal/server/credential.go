package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
)

type errorBody struct {
	Error string `json:"error"`
}

// handleCredential hands out a recognition credential. The response must
// never be cached by the browser or intermediaries.
func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if s.issuer == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "credential endpoint is not configured"})
		return
	}
	if s.credLimiter != nil && !s.credLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many credential requests"})
		return
	}

	cred, err := s.issuer.Issue(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("issue credential", "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: "credential unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
