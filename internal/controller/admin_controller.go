package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/service"
)

// AdminController exposes the operator surface for the dead-letter store.
type AdminController struct {
	dlqRepo    outbox.DeadLetterRepository
	dispatcher *service.Dispatcher
}

func NewAdminController(dlqRepo outbox.DeadLetterRepository, dispatcher *service.Dispatcher) *AdminController {
	return &AdminController{dlqRepo: dlqRepo, dispatcher: dispatcher}
}

// ListDeadLetters handles GET /api/v1/admin/dead-letters?limit=&offset=
func (h *AdminController) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 200 {
		limit = 200
	}

	letters, err := h.dlqRepo.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, FromDeadLetter(dl))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDeadLetter handles GET /api/v1/admin/dead-letters/{id}
func (h *AdminController) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid dead letter id", Code: "invalid_id"})
		return
	}

	dl, err := h.dlqRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromDeadLetter(dl))
}

// Reprocess handles POST /api/v1/admin/dead-letters/{id}/reprocess
func (h *AdminController) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid dead letter id", Code: "invalid_id"})
		return
	}

	entry, err := h.dispatcher.Reprocess(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"dead_letter_id": id.String(),
		"new_event_id":   entry.ID.String(),
		"status":         string(entry.Status),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
