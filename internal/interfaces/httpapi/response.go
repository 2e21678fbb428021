package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"wallet-watcher-engine/internal/domain/entity"

	"go.uber.org/zap"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errRateLimited  = errors.New("rate limit exceeded")
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, fields envelope) {
	body := envelope{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	var validation *entity.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrRuleProvisioning):
		return http.StatusBadGateway
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.requestLogger(r).Error("Request failed", zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, envelope{"success": false, "error": message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return entity.NewValidationError("body", "must be valid JSON")
	}
	return nil
}
