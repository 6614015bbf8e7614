package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"moodline/internal/analytics"
	"moodline/internal/export"
	mw "moodline/internal/middleware"
	"moodline/internal/models"
	"moodline/internal/services"
	"moodline/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Checkin interface {
	Submit(ctx context.Context, subjectID string, in models.SampleInput) (*services.CheckinResult, error)
	Edit(ctx context.Context, subjectID, sampleID string, in models.SampleInput) (*services.CheckinResult, error)
}

type SampleReader interface {
	GetSample(ctx context.Context, subjectID, sampleID string) (*models.MoodSample, error)
	RangeQuery(ctx context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error)
}

// ZoneResolver returns the calendar zone of a subject.
type ZoneResolver interface {
	Location(ctx context.Context, subjectID string) *time.Location
}

type SampleHandler struct {
	checkin Checkin
	samples SampleReader
	zones   ZoneResolver
	logger  *zap.Logger
	now     func() time.Time
}

func NewSampleHandler(checkin Checkin, samples SampleReader, zones ZoneResolver, logger *zap.Logger) *SampleHandler {
	return &SampleHandler{checkin: checkin, samples: samples, zones: zones, logger: logger, now: time.Now}
}

// Create godoc
// @Summary Record a mood sample
// @Description Stores the sample, assesses crisis risk against recent history and escalates when needed.
// @Tags samples
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} services.CheckinResult
// @Failure 400 {string} string "Bad request"
// @Router /samples [post]
func (h *SampleHandler) Create(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	var in models.SampleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := h.checkin.Submit(r.Context(), subjectID, in)
	if err != nil {
		h.writeCheckinError(w, err, subjectID)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Update replaces the editable fields of a sample and re-assesses it.
func (h *SampleHandler) Update(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	var in models.SampleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := h.checkin.Edit(r.Context(), subjectID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeCheckinError(w, err, subjectID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SampleHandler) writeCheckinError(w http.ResponseWriter, err error, subjectID string) {
	switch {
	case errors.Is(err, models.ErrInvalidSample):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrStaleRevision):
		http.Error(w, "sample was modified, reload and retry", http.StatusConflict)
	default:
		h.logger.Error("failed to save sample", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "could not save", http.StatusInternalServerError)
	}
}

// Get returns a single sample owned by the caller.
func (h *SampleHandler) Get(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	s, err := h.samples.GetSample(r.Context(), subjectID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load sample", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type sampleList struct {
	WindowDays int                 `json:"window_days"`
	From       time.Time           `json:"from"`
	To         time.Time           `json:"to"`
	Samples    []models.MoodSample `json:"samples"`
}

// List returns the samples of the last ?days= calendar days, oldest first.
func (h *SampleHandler) List(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	samples, days, from, to, ok := h.window(w, r, subjectID, false)
	if !ok {
		return
	}
	if samples == nil {
		samples = []models.MoodSample{}
	}
	writeJSON(w, http.StatusOK, sampleList{WindowDays: days, From: from, To: to, Samples: samples})
}

// Export streams the window as an xlsx workbook.
func (h *SampleHandler) Export(w http.ResponseWriter, r *http.Request) {
	subjectID := mw.SubjectIDFromContext(r.Context())
	read, days, from, to, ok := h.window(w, r, subjectID, true)
	if !ok {
		return
	}
	loc := h.zones.Location(r.Context(), subjectID)
	view := analytics.Compose(read, days, to, loc)

	rows := make([]models.MoodSample, 0, len(read))
	for _, s := range read {
		if !s.CreatedAt.Before(from) {
			rows = append(rows, s)
		}
	}
	data, err := export.Workbook(rows, view.Snapshot, loc)
	if err != nil {
		h.logger.Error("failed to build export", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "could not export", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("moodline-%s.xlsx", to.In(loc).Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// window reads the requested calendar window. With streak set the read
// starts at analytics.ReadStart so the result can also feed Compose; from is
// still the window start.
func (h *SampleHandler) window(w http.ResponseWriter, r *http.Request, subjectID string, streak bool) ([]models.MoodSample, int, time.Time, time.Time, bool) {
	days, ok := queryInt(r, "days", analytics.DefaultWindowDays)
	if !ok {
		http.Error(w, "invalid days", http.StatusBadRequest)
		return nil, 0, time.Time{}, time.Time{}, false
	}
	days = analytics.ClampWindow(days)
	now := h.now()
	loc := h.zones.Location(r.Context(), subjectID)
	from := analytics.WindowStart(now, days, loc)
	readFrom := from
	if streak {
		readFrom = analytics.ReadStart(now, days, loc)
	}

	samples, err := h.samples.RangeQuery(r.Context(), subjectID, readFrom, now)
	if err != nil {
		h.logger.Error("failed to list samples", zap.String("subject_id", subjectID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, 0, time.Time{}, time.Time{}, false
	}
	return samples, days, from, now, true
}
