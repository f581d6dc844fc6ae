package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
)

const (
	defaultTurnsLimit = 50
	maxTurnsLimit     = 500
)

// TurnsHandler serves the audit trail and the handler binding table.
type TurnsHandler struct {
	audit    store.AuditStore // nil in memory mode
	registry *dispatch.Registry
	token    string
}

func NewTurnsHandler(audit store.AuditStore, registry *dispatch.Registry, token string) *TurnsHandler {
	return &TurnsHandler{audit: audit, registry: registry, token: token}
}

// RegisterRoutes registers the audit routes on the given mux.
func (h *TurnsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/turns", requireToken(h.token, h.handleListTurns))
	mux.HandleFunc("GET /v1/targets", requireToken(h.token, h.handleListTargets))
}

func (h *TurnsHandler) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audit storage disabled"})
		return
	}
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor_id is required"})
		return
	}
	limit, err := ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	recs, err := h.audit.ListTurns(r.Context(), actorID, limit)
	if err != nil {
		slog.Error("turns.list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list turns"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": recs})
}

func (h *TurnsHandler) handleListTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"targets": h.registry.Targets()})
}

// ParseLimit reads a page size, applying the default and upper bound.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultTurnsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return min(n, maxTurnsLimit), nil
}
