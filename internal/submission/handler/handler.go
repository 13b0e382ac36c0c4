// Package handler exposes the submission endpoint over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/submission/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
)

// maxBodyBytes leaves room for JSON framing and metadata around raw_text.
const maxBodyBytes = 2 << 20

// Submitter queues raw text for processing. *producer.Producer satisfies it.
type Submitter interface {
	Submit(ctx context.Context, rawText string, metadata map[string]any) (string, error)
}

type Handler struct {
	submitter Submitter
	validator *validator.Validator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Handler. m may be nil.
func New(s Submitter, m *metrics.Metrics) *Handler {
	return &Handler{
		submitter: s,
		validator: validator.New(),
		metrics:   m,
		logger:    slog.Default().With("component", "submission-handler"),
	}
}

// Routes registers the submission and liveness endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/financial-data/submit", h.Submit)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req financial.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.count("invalid")
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.ValidateSubmitRequest(&req); err != nil {
		h.count("invalid")
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID, err := h.submitter.Submit(ctx, req.RawText, req.Metadata)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		h.logger.Error("submission failed",
			"error", err,
			"status_code", statusCode,
		)
		if errors.Is(err, apperrors.ErrBrokerUnavailable) {
			h.count("unavailable")
			w.Header().Set("Retry-After", "5")
			h.writeError(w, statusCode, "message broker unavailable, retry later")
			return
		}
		h.count("error")
		h.writeError(w, statusCode, "submission failed")
		return
	}

	h.count("accepted")
	logger.FromContext(logger.WithRequestID(ctx, requestID)).Info("submission accepted",
		"raw_text_length", len(req.RawText),
	)
	h.writeJSON(w, http.StatusAccepted, financial.SubmitResponse{
		RequestID: requestID,
		Status:    "success",
		Message:   "Financial data submitted for processing",
		Metadata:  map[string]any{"raw_text_length": len(req.RawText)},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
