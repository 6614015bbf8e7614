package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"moodline/internal/escalation"
	mw "moodline/internal/middleware"
	"moodline/internal/models"
)

const defaultListLimit = 50

type CrisisReader interface {
	SubjectGetter
	ListAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisAssessment, error)
	ListAlerts(ctx context.Context, subjectID string, limit int) ([]models.CrisisAlert, error)
}

type AlertLifecycle interface {
	State(ctx context.Context, subjectID string) (models.EpisodeState, *models.CrisisAlert, error)
	Resolve(ctx context.Context, alertID, actorID, note string) (*models.CrisisAlert, error)
}

type CrisisHandler struct {
	store     CrisisReader
	lifecycle AlertLifecycle
	logger    *zap.Logger
}

func NewCrisisHandler(s CrisisReader, lifecycle AlertLifecycle, logger *zap.Logger) *CrisisHandler {
	return &CrisisHandler{store: s, lifecycle: lifecycle, logger: logger}
}

// Assessments lists the caller's crisis assessments, newest first.
func (h *CrisisHandler) Assessments(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	subjectID := mw.SubjectIDFromContext(r.Context())
	out, err := h.store.ListAssessments(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.Error("failed to list assessments", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.CrisisAssessment{}
	}
	writeJSON(w, http.StatusOK, out)
}

// Alerts lists the caller's alerts, newest first.
func (h *CrisisHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	subjectID := mw.SubjectIDFromContext(r.Context())
	out, err := h.store.ListAlerts(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.CrisisAlert{}
	}
	writeJSON(w, http.StatusOK, out)
}

type stateResponse struct {
	State models.EpisodeState `json:"state"`
	Alert *models.CrisisAlert `json:"alert,omitempty"`
}

// State reports NONE, ALERTED or RESOLVED for the caller.
func (h *CrisisHandler) State(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	state, alert, err := h.lifecycle.State(r.Context(), subjectID)
	if err != nil {
		h.logger.Error("failed to load alert state", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state, Alert: alert})
}

// Resolve godoc
// @Summary Resolve a crisis alert
// @Description Closes an open alert. The calling admin is recorded as the resolver.
// @Tags crisis
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Success 200 {object} models.CrisisAlert
// @Failure 403 {string} string "Forbidden"
// @Failure 404 {string} string "Not found"
// @Failure 409 {string} string "Already resolved"
// @Router /crisis/alerts/{id}/resolve [post]
func (h *CrisisHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actorID, ok := mustBeAdmin(w, r, h.store, h.logger)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	alert, err := h.lifecycle.Resolve(r.Context(), chi.URLParam(r, "id"), actorID, body.Note)
	switch {
	case errors.Is(err, escalation.ErrAlertNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, escalation.ErrAlreadyResolved):
		http.Error(w, "alert already resolved", http.StatusConflict)
	case errors.Is(err, escalation.ErrActorRequired):
		http.Error(w, "actor required", http.StatusBadRequest)
	case err != nil:
		h.logger.Error("failed to resolve alert", zap.String("alert_id", chi.URLParam(r, "id")), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, alert)
	}
}
