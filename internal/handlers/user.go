package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	mw "moodline/internal/middleware"
	"moodline/internal/models"
	"moodline/internal/store"
)

type ProfileStore interface {
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	UpdateProfile(ctx context.Context, id string, p store.ProfileUpdate) error
}

type UserHandler struct {
	subjects ProfileStore
	logger   *zap.Logger
}

func NewUserHandler(subjects ProfileStore, logger *zap.Logger) *UserHandler {
	return &UserHandler{subjects: subjects, logger: logger}
}

// GetMe returns the current subject's profile
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	s, err := h.subjects.GetSubject(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load subject", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ToSubjectDTO(*s))
}

// UpdateMe updates provided fields on the current subject's profile.
// timezone must be an IANA name; an empty responsible_party_id clears the
// assignment.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	var body struct {
		FirstName          *string `json:"first_name"`
		LastName           *string `json:"last_name"`
		Timezone           *string `json:"timezone"`
		ResponsiblePartyID *string `json:"responsible_party_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if body.Timezone != nil {
		tz := strings.TrimSpace(*body.Timezone)
		if tz == "" {
			http.Error(w, "invalid timezone; expected IANA name", http.StatusBadRequest)
			return
		}
		if _, err := time.LoadLocation(tz); err != nil {
			http.Error(w, "invalid timezone; expected IANA name", http.StatusBadRequest)
			return
		}
		body.Timezone = &tz
	}
	if body.ResponsiblePartyID != nil {
		party := strings.TrimSpace(*body.ResponsiblePartyID)
		if party == subjectID {
			http.Error(w, "subject cannot be their own responsible party", http.StatusBadRequest)
			return
		}
		body.ResponsiblePartyID = &party
	}

	err := h.subjects.UpdateProfile(r.Context(), subjectID, store.ProfileUpdate{
		FirstName:          body.FirstName,
		LastName:           body.LastName,
		Timezone:           body.Timezone,
		ResponsiblePartyID: body.ResponsiblePartyID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update profile", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "could not update", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
