package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"offer-attribution/internal/models"
	"offer-attribution/internal/service"
	"offer-attribution/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 50 << 20, // transcripts are large
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes mounts the run endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Delete("/", h.DeleteRun)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/completions", h.GetCompletions)
		})
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CreateRun handles POST /runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return
	}

	summary, _, err := h.service.RunRaw(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, summary)
}

// GetRun handles GET /runs/{run_id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}

// GetTransactions handles GET /runs/{run_id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}

	person := validation.SanitizeString(r.URL.Query().Get("person"))

	txns, err := h.service.GetTransactions(r.Context(), runID, person)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if txns == nil {
		txns = []models.AttributedTransaction{}
	}

	h.respondJSON(w, http.StatusOK, models.TransactionsResponse{
		RunID:        runID,
		Transactions: txns,
	})
}

// GetCompletions handles GET /runs/{run_id}/completions
func (h *Handler) GetCompletions(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}

	table, err := h.service.GetCompletions(r.Context(), runID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.CompletionsResponse{
		RunID:       runID,
		Completions: table,
	})
}

// DeleteRun handles DELETE /runs/{run_id}
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteRun(r.Context(), runID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := validation.SanitizeString(chi.URLParam(r, "run_id"))
	if err := validation.ValidateID(runID, "run_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return runID, true
}

// respondServiceError maps service errors onto status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRunNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
	default:
		log.WithError(err).Error("Request failed")
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
