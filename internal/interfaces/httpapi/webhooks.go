package httpapi

import (
	"io"
	"net/http"

	"wallet-watcher-engine/internal/domain/entity"

	"go.uber.org/zap"
)

func (s *Server) handleWebhookCheck(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"message": "webhook endpoint is live"})
}

// handleWebhook enriches a single notification or an array of them
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, entity.NewValidationError("body", "could not be read"))
		return
	}

	events, err := entity.DecodeNotifications(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result := s.pipeline.ProcessBatch(r.Context(), events)

	s.requestLogger(r).Info("Webhook batch processed",
		zap.Int("received", result.Received),
		zap.Int("processed", result.Processed))
	writeSuccess(w, http.StatusOK, envelope{
		"received":  result.Received,
		"processed": result.Processed,
		"events":    result.Events,
	})
}
