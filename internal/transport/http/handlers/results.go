// Package handlers exposes the result and audit endpoints over chi.
package handlers

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"psymetric/internal/gate"
	"psymetric/internal/requestcontext"
	"psymetric/internal/result/models"
	"psymetric/internal/result/store"
	"psymetric/internal/transport/http/api"
	"psymetric/internal/transport/http/middleware"
)

// ResultHandler serves the result endpoints through the access gate.
type ResultHandler struct {
	gate   *gate.Gate
	logger *slog.Logger
}

// NewResultHandler builds the handler.
func NewResultHandler(g *gate.Gate, logger *slog.Logger) *ResultHandler {
	return &ResultHandler{gate: g, logger: logger}
}

// RegisterRoutes mounts the result routes.
func (h *ResultHandler) RegisterRoutes(r chi.Router) {
	r.Route("/results", func(r chi.Router) {
		r.Post("/", h.handleStore)
		r.Get("/", h.handleList)
		r.Get("/export", h.handleExport)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handlePatch)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *ResultHandler) handleStore(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())

	var result models.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	if err := result.Validate(); err != nil {
		api.Fail(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	caller := middleware.GetIdentity(r.Context())
	if err := h.gate.StoreResult(r.Context(), caller, &result); err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusCreated, result)
}

func (h *ResultHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	result, err := h.gate.GetResult(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusOK, result)
}

func (h *ResultHandler) handleList(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	filter := store.Filter{
		TestType:   r.URL.Query().Get("testType"),
		CategoryID: r.URL.Query().Get("categoryId"),
		Search:     r.URL.Query().Get("search"),
	}
	filter.DateFrom, filter.DateTo = parseDateRange(r)

	page, err := h.gate.ListResults(r.Context(), caller, r.URL.Query().Get("ownerId"), filter, parsePage(r))
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusOK, page)
}

func (h *ResultHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	var patch struct {
		Metadata        map[string]any `json:"metadata"`
		Interpretation  *string        `json:"interpretation"`
		Recommendations []string       `json:"recommendations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	result, err := h.gate.PatchResult(r.Context(), caller, chi.URLParam(r, "id"),
		patch.Metadata, patch.Interpretation, patch.Recommendations)
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusOK, result)
}

func (h *ResultHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	if err := h.gate.DeleteResult(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		api.FromError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResultHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	results, err := h.gate.ExportResults(r.Context(), caller)
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=results.csv")
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "test_id", "session_id", "completed_at", "duration_seconds", "overall_score", "interpretation"}); err != nil {
		h.logger.Warn("result export header failed", "error", err)
	}
	for _, result := range results {
		score := ""
		if result.OverallScore != nil {
			score = strconv.FormatFloat(*result.OverallScore, 'f', -1, 64)
		}
		row := []string{
			result.ID, result.TestID, result.SessionID,
			result.CompletedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(result.DurationSeconds), score, result.Interpretation,
		}
		if err := writer.Write(row); err != nil {
			h.logger.Warn("result export row failed", "error", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Warn("result export flush failed", "error", err)
	}
}

func parsePage(r *http.Request) store.Page {
	page := store.Page{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page.Limit = v
		}
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit := page.Limit
			if limit <= 0 {
				limit = 20
			}
			page.Offset = (v - 1) * limit
			if page.Limit <= 0 {
				page.Limit = limit
			}
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			page.Offset = v
		}
	}
	return page
}

func parseDateRange(r *http.Request) (from, to time.Time) {
	from = parseDate(r.URL.Query().Get("dateFrom"))
	to = parseDate(r.URL.Query().Get("dateTo"))
	return from, to
}

// parseDate accepts RFC 3339 timestamps or bare dates; anything else is
// treated as unset.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return time.Time{}
}
