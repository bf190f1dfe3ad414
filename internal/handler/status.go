package handler

import "net/http"

// GetStatus handles GET /status.
// It returns the report of the last finished run, or 404 before the first
// run completes.
func (s *Server) GetStatus(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no run has finished yet"))
		return
	}
	rep, ok := s.runs.LastReport()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no run has finished yet"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
