package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// route wraps a handler in a span and logs the outcome with its trace id
func (s *Server) route(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.Tracer().Start(r.Context(), name)
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		next.ServeHTTP(rec, r)

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", name),
			attribute.Int("http.status_code", rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		s.requestLogger(r).Debug("Request served",
			zap.String("route", name),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) requestLogger(r *http.Request) *logger.Logger {
	traceID := tracing.TraceID(r.Context())
	if traceID == "" {
		return s.logger
	}
	return &logger.Logger{Logger: s.logger.With(zap.String("trace_id", traceID))}
}

// requireBearer admits requests carrying one of the configured API tokens
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiTokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || !matchesAny(token, s.apiTokens) {
			s.writeError(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWebhookToken checks the shared secret the provider sends in the
// Authorization header, with or without a Bearer prefix
func (s *Server) requireWebhookToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.hookToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := bearerToken(r)
		if !ok {
			token = header
		}
		if !matchesAny(token, []string{s.hookToken}) {
			s.writeError(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit counts requests per caller in a fixed window. A limiter failure
// lets the request through.
func (s *Server) rateLimit(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := s.limiter.Allow(r.Context(), route+":"+callerKey(r))
		if err != nil {
			s.requestLogger(r).Warn("Rate limiter unavailable", zap.String("route", route), zap.Error(err))
			allowed = true
		}
		if !allowed {
			s.metrics.RateLimited.WithLabelValues(route).Inc()
			s.writeError(w, r, errRateLimited)
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func matchesAny(token string, allowed []string) bool {
	if token == "" {
		return false
	}
	for _, candidate := range allowed {
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			return true
		}
	}
	return false
}

// callerKey identifies the caller by bearer token digest, else by remote host
func callerKey(r *http.Request) string {
	if token, ok := bearerToken(r); ok && token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
