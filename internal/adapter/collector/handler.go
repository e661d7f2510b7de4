package collector

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/event-tracker/internal/adapter/metrics"
)

// Config holds the collector's credential and acceptance settings.
type Config struct {
	// Username and Password are the credentials clients exchange for a token.
	Username string
	Password string

	// JWTSecret signs issued bearer tokens.
	JWTSecret string

	// TokenExpiry bounds how long an issued token stays valid.
	TokenExpiry time.Duration

	// MaxBatchBytes caps the size of an uploaded batch; larger uploads are
	// rejected with 413 so clients shrink their batches.
	MaxBatchBytes int64
}

// Handler serves the collector's two endpoints: credential exchange and
// event batch ingestion.
type Handler struct {
	cfg     Config
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.CollectorMetrics
}

func NewHandler(cfg Config, sink Sink, m *metrics.CollectorMetrics, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.With("component", "collector"),
		metrics: m,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticate exchanges client credentials for a bearer token.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed credentials"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(h.cfg.Password)) == 1
	if !userOK || !passOK {
		h.logger.Warn("rejected credentials", "username", creds.Username, "remote_addr", r.RemoteAddr)
		h.metrics.AuthTotal.WithLabelValues("rejected").Inc()
		h.respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}

	token, err := GenerateToken(creds.Username, h.cfg.JWTSecret, h.cfg.TokenExpiry)
	if err != nil {
		h.logger.Error("failed to sign token", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	h.metrics.AuthTotal.WithLabelValues("ok").Inc()
	h.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// RequireToken guards event ingestion with bearer token validation.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			h.respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "bearer token required"})
			return
		}

		if _, err := ValidateToken(raw, h.cfg.JWTSecret); err != nil {
			h.logger.Warn("rejected token", "error", err, "remote_addr", r.RemoteAddr)
			h.respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

type batchEnvelope struct {
	Events []json.RawMessage `json:"events"`
}

// IngestEvents accepts an uploaded event batch. Oversized uploads get 413 so
// the client halves its batch size and retries.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBatchBytes)

	var envelope batchEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.metrics.BatchesTotal.WithLabelValues("too_large").Inc()
			h.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"message": "batch too large"})
			return
		}
		h.metrics.BatchesTotal.WithLabelValues("malformed").Inc()
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed batch"})
		return
	}

	if err := h.sink.Ingest(r.Context(), envelope.Events); err != nil {
		h.logger.Error("sink rejected batch", "error", err)
		h.metrics.BatchesTotal.WithLabelValues("sink_error").Inc()
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	h.metrics.BatchesTotal.WithLabelValues("accepted").Inc()
	h.metrics.EventsTotal.Add(float64(len(envelope.Events)))
	if r.ContentLength > 0 {
		h.metrics.BatchBytes.Observe(float64(r.ContentLength))
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "events ingested"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
