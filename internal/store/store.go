package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"moodline/internal/live"
	"moodline/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrStaleRevision = errors.New("sample was modified concurrently")
)

// ProfileUpdate changes only the non-nil fields. An empty
// ResponsiblePartyID clears the assignment.
type ProfileUpdate struct {
	FirstName          *string
	LastName           *string
	Timezone           *string
	ResponsiblePartyID *string
}

type Overview struct {
	TotalSubjects        int                  `json:"total_subjects"`
	TotalSamples         int                  `json:"total_samples"`
	SamplesLast7Days     int                  `json:"samples_last_7_days"`
	OpenAlerts           int                  `json:"open_alerts"`
	NotificationFailures int                  `json:"notification_failures"`
	Open                 []models.CrisisAlert `json:"open"`
}

// Store is the full persistence surface used by the service. Both the
// Postgres and the in-memory implementations satisfy it.
type Store interface {
	Insert(ctx context.Context, s *models.MoodSample) error
	GetSample(ctx context.Context, subjectID, sampleID string) (*models.MoodSample, error)
	RangeQuery(ctx context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error)
	UpdateSample(ctx context.Context, s *models.MoodSample) error
	AttachAnalysis(ctx context.Context, sampleID string, a models.SampleAnalysis) (bool, error)
	Subscribe(ctx context.Context, subjectID string, fn func(models.ChangeEvent)) (func(), error)

	CreateAssessment(ctx context.Context, a *models.CrisisAssessment) (bool, error)
	ListAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisAssessment, error)
	MarkAssessmentNotified(ctx context.Context, assessmentID string) (bool, error)

	CreateAlertIfNoneOpen(ctx context.Context, alert *models.CrisisAlert) (bool, *models.CrisisAlert, error)
	UpdateLatestAssessment(ctx context.Context, alertID, assessmentID string) error
	SetNotificationStatus(ctx context.Context, alertID string, status models.NotificationStatus, detail *string) error
	GetAlert(ctx context.Context, alertID string) (*models.CrisisAlert, error)
	ResolveAlert(ctx context.Context, alertID, actorID string, note *string, at time.Time) (bool, error)
	LatestAlert(ctx context.Context, subjectID string) (*models.CrisisAlert, error)
	ListAlerts(ctx context.Context, subjectID string, limit int) ([]models.CrisisAlert, error)

	CreateSubject(ctx context.Context, s *models.Subject) error
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	GetSubjectByEmail(ctx context.Context, email string) (*models.Subject, error)
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error
	FindResponsibleParty(ctx context.Context, subjectID string) (string, bool, error)

	Overview(ctx context.Context) (Overview, error)
}

// changes publishes sample writes to the live feed. A nil feed disables
// subscriptions.
type changes struct {
	feed   live.Feed
	logger *zap.Logger
}

func (c changes) publish(ctx context.Context, kind models.ChangeKind, s *models.MoodSample) {
	if c.feed == nil {
		return
	}
	ev := models.ChangeEvent{SubjectID: s.SubjectID, SampleID: s.ID, Kind: kind, At: s.UpdatedAt}
	if err := c.feed.Publish(ctx, ev); err != nil {
		// Subscribers fall back to polling; the write itself succeeded.
		c.logger.Warn("failed to publish sample change",
			zap.String("subject_id", s.SubjectID),
			zap.String("sample_id", s.ID),
			zap.Error(err),
		)
	}
}

func (c changes) Subscribe(ctx context.Context, subjectID string, fn func(models.ChangeEvent)) (func(), error) {
	if c.feed == nil {
		return func() {}, nil
	}
	return c.feed.Subscribe(ctx, subjectID, fn)
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}
