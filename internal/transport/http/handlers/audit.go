package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"psymetric/internal/audit"
	"psymetric/internal/gate"
	"psymetric/internal/requestcontext"
	"psymetric/internal/transport/http/api"
	"psymetric/internal/transport/http/middleware"
)

// AuditHandler serves the ledger query endpoints through the access gate.
type AuditHandler struct {
	gate   *gate.Gate
	logger *slog.Logger
}

// NewAuditHandler builds the handler.
func NewAuditHandler(g *gate.Gate, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{gate: g, logger: logger}
}

// RegisterRoutes mounts the audit routes.
func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Get("/events", h.handleListEvents)
		r.Post("/stats", h.handleStats)
	})
}

func (h *AuditHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	query := r.URL.Query()
	filter := audit.Filter{
		// The actorId filter only takes effect for privileged callers; the
		// query service pins everyone else to their own events.
		ActorID:  query.Get("actorId"),
		Action:   audit.Action(query.Get("action")),
		Severity: audit.Severity(query.Get("securityLevel")),
	}
	filter.DateFrom = parseDate(query.Get("dateFrom"))
	filter.DateTo = parseDate(query.Get("dateTo"))

	storePage := parsePage(r)
	page, err := h.gate.QueryAuditEvents(r.Context(), caller, filter,
		audit.Page{Limit: storePage.Limit, Offset: storePage.Offset})
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusOK, page)
}

func (h *AuditHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	requestID := requestcontext.RequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	stats, err := h.gate.AuditStats(r.Context(), caller)
	if err != nil {
		api.FromError(w, err, requestID)
		return
	}
	api.JSON(w, http.StatusOK, stats)
}
