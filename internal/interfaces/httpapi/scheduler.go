package httpapi

import (
	"net/http"
)

// handleTick runs one scheduler pass, for external cron triggers
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.scheduler.Tick(r.Context(), s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{
		"due":      report.Due,
		"executed": report.Executed,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
		"results":  report.Results,
	})
}
