package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/casetrack/notify-gateway/internal/api/middleware"
	"github.com/casetrack/notify-gateway/internal/domain"
	"github.com/casetrack/notify-gateway/internal/service"
)

// NotificationHandler exposes the delivery pipeline's inbound contract over
// HTTP: submit, fetch, acknowledge, and delivery-status queries.
type NotificationHandler struct {
	svc    *service.DeliveryService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.DeliveryService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/notifications
func (h *NotificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}

	id, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.logger.Warn("submit failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	// 202: accepted for delivery. Delivery outcome is visible via the
	// status endpoint, never via this response.
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// GetByID handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// Status handles GET /api/v1/notifications/{id}/status
func (h *NotificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.DeliveryStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type markReadRequest struct {
	RecipientID string `json:"recipient_id"`
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"), req.RecipientID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUnread handles GET /api/v1/recipients/{id}/notifications
func (h *NotificationHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}

	notifications, err := h.svc.ListUnread(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  notifications,
		"count": len(notifications),
	})
}
