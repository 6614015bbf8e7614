package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	mw "moodline/internal/middleware"
	"moodline/internal/models"
	"moodline/internal/store"
)

type SubjectGetter interface {
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
}

type OverviewStore interface {
	SubjectGetter
	Overview(ctx context.Context) (store.Overview, error)
}

type AdminHandler struct {
	store  OverviewStore
	logger *zap.Logger
}

func NewAdminHandler(s OverviewStore, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{store: s, logger: logger}
}

// mustBeAdmin writes the error response and reports false unless the caller
// is an admin.
func mustBeAdmin(w http.ResponseWriter, r *http.Request, subjects SubjectGetter, logger *zap.Logger) (string, bool) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	s, err := subjects.GetSubject(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return "", false
		}
		logger.Error("failed to load caller", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return "", false
	}
	if !s.IsAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return subjectID, true
}

// Overview godoc
// @Summary Get admin overview
// @Description Subject and sample counts, open crisis alerts and failed notifications (admin only)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} store.Overview
// @Failure 403 {string} string "Forbidden"
// @Failure 500 {string} string "Internal server error"
// @Router /admin/overview [get]
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if _, ok := mustBeAdmin(w, r, h.store, h.logger); !ok {
		return
	}
	out, err := h.store.Overview(r.Context())
	if err != nil {
		h.logger.Error("failed to build overview", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if out.Open == nil {
		out.Open = []models.CrisisAlert{}
	}
	writeJSON(w, http.StatusOK, out)
}
