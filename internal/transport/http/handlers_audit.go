package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coronasafe/care-abdm/internal/platform/middleware"
	"github.com/coronasafe/care-abdm/pkg/audit"
	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// AuditHandler serves the recorded protocol trail to the hospital
// application.
type AuditHandler struct {
	recorder  *audit.Recorder
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func NewAuditHandler(recorder *audit.Recorder, logger *slog.Logger, validator middleware.TokenValidator) *AuditHandler {
	return &AuditHandler{recorder: recorder, logger: logger, validator: validator}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/audit/{subject}", h.handleList)
	})
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	events, err := h.recorder.Events(r.Context(), subject)
	if err != nil {
		writeError(w, dErrors.Wrap(dErrors.CodeInternal, "list audit events", err))
		return
	}
	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, auditEventView{
			Timestamp: domain.WireTime(e.Timestamp),
			Action:    string(e.Action),
			Subject:   e.Subject,
			Reason:    e.Reason,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
