package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"moodline/internal/analytics"
	mw "moodline/internal/middleware"
	"moodline/internal/models"
)

const defaultHeartbeat = 20 * time.Second

type AnalyticsSource interface {
	GetAnalytics(ctx context.Context, subjectID string, windowDays int) analytics.Analytics
	Refresh(ctx context.Context, subjectID string, windowDays int) analytics.Analytics
}

type ChangeSubscriber interface {
	Subscribe(ctx context.Context, subjectID string, fn func(models.ChangeEvent)) (func(), error)
}

type AnalyticsHandler struct {
	source    AnalyticsSource
	changes   ChangeSubscriber
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewAnalyticsHandler(source AnalyticsSource, changes ChangeSubscriber, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{source: source, changes: changes, heartbeat: defaultHeartbeat, logger: logger}
}

// Get godoc
// @Summary Mood analytics for the caller
// @Description Snapshot, trend and streak over the last ?days= calendar days in the subject's timezone.
// @Tags analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} analytics.Analytics
// @Router /analytics [get]
func (h *AnalyticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", analytics.DefaultWindowDays)
	if !ok {
		http.Error(w, "invalid days", http.StatusBadRequest)
		return
	}
	subjectID := mw.SubjectIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.source.GetAnalytics(r.Context(), subjectID, days))
}

// Stream serves analytics as server-sent events. The current read model is
// sent immediately and again after every change to the subject's samples
// or alerts.
func (h *AnalyticsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", analytics.DefaultWindowDays)
	if !ok {
		http.Error(w, "invalid days", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	subjectID := mw.SubjectIDFromContext(ctx)
	log := h.logger.With(zap.String("subject_id", subjectID))

	changed := make(chan struct{}, 1)
	unsubscribe, err := h.changes.Subscribe(ctx, subjectID, func(models.ChangeEvent) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log.Warn("live updates unavailable", zap.Error(err))
		http.Error(w, "live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, flusher, "analytics", h.source.GetAnalytics(ctx, subjectID, days)); err != nil {
		return
	}
	log.Debug("analytics stream opened", zap.Int("window_days", days))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("analytics stream closed")
			return
		case <-changed:
			if err := writeEvent(w, flusher, "analytics", h.source.Refresh(ctx, subjectID, days)); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
