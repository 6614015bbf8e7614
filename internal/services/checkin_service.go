package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"moodline/internal/escalation"
	"moodline/internal/models"
)

const DefaultHistoryDays = 7

type SampleStore interface {
	Insert(ctx context.Context, s *models.MoodSample) error
	GetSample(ctx context.Context, subjectID, sampleID string) (*models.MoodSample, error)
	UpdateSample(ctx context.Context, s *models.MoodSample) error
	RangeQuery(ctx context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error)
	AttachAnalysis(ctx context.Context, sampleID string, a models.SampleAnalysis) (bool, error)
	CreateAssessment(ctx context.Context, a *models.CrisisAssessment) (bool, error)
}

type Assessor interface {
	AssessRisk(ctx context.Context, sample models.MoodSample, history []models.MoodSample) models.CrisisAssessment
}

type Escalator interface {
	Escalate(ctx context.Context, a *models.CrisisAssessment) (escalation.Outcome, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context, subjectID string) error
}

// CheckinResult is returned for every accepted sample. Warnings list the
// steps after the insert that did not complete.
type CheckinResult struct {
	Sample     models.MoodSample        `json:"sample"`
	Assessment *models.CrisisAssessment `json:"assessment,omitempty"`
	Escalation *escalation.Outcome      `json:"escalation,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

// CheckinService runs the write path: the insert is acknowledged first,
// then risk is assessed against the stored history and escalated.
type CheckinService struct {
	store       SampleStore
	assessor    Assessor
	escalator   Escalator
	cache       Invalidator
	historyDays int
	logger      *zap.Logger
}

// NewCheckinService accepts a nil cache.
func NewCheckinService(store SampleStore, assessor Assessor, escalator Escalator, cache Invalidator, historyDays int, logger *zap.Logger) *CheckinService {
	if historyDays <= 0 {
		historyDays = DefaultHistoryDays
	}
	return &CheckinService{
		store:       store,
		assessor:    assessor,
		escalator:   escalator,
		cache:       cache,
		historyDays: historyDays,
		logger:      logger,
	}
}

// Submit canonicalizes and stores a new sample. Only validation and insert
// failures are returned as errors.
func (s *CheckinService) Submit(ctx context.Context, subjectID string, in models.SampleInput) (*CheckinResult, error) {
	sample, err := models.NewSample(subjectID, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, &sample); err != nil {
		return nil, fmt.Errorf("failed to save sample: %w", err)
	}
	s.logger.Info("sample saved",
		zap.String("subject_id", subjectID),
		zap.String("sample_id", sample.ID),
		zap.Int("mood", sample.Mood),
	)
	return s.evaluate(ctx, sample), nil
}

// Edit replaces the editable fields of an existing sample and re-runs the
// assessment for the new revision.
func (s *CheckinService) Edit(ctx context.Context, subjectID, sampleID string, in models.SampleInput) (*CheckinResult, error) {
	sample, err := s.store.GetSample(ctx, subjectID, sampleID)
	if err != nil {
		return nil, err
	}
	if err := sample.ApplyEdit(in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSample(ctx, sample); err != nil {
		return nil, err
	}
	s.logger.Info("sample edited",
		zap.String("subject_id", subjectID),
		zap.String("sample_id", sample.ID),
		zap.Int("revision", sample.Revision),
	)
	return s.evaluate(ctx, *sample), nil
}

func (s *CheckinService) evaluate(ctx context.Context, sample models.MoodSample) *CheckinResult {
	res := &CheckinResult{Sample: sample}
	log := s.logger.With(
		zap.String("subject_id", sample.SubjectID),
		zap.String("sample_id", sample.ID),
		zap.Int("revision", sample.Revision),
	)
	defer s.invalidate(ctx, sample.SubjectID, log)

	from := sample.CreatedAt.AddDate(0, 0, -s.historyDays)
	history, err := s.store.RangeQuery(ctx, sample.SubjectID, from, sample.CreatedAt)
	if err != nil {
		log.Warn("recent history unavailable, assessing sample alone", zap.Error(err))
		res.Warnings = append(res.Warnings, "recent history unavailable")
		history = nil
	}

	assessment := s.assessor.AssessRisk(ctx, sample, history)
	created, err := s.store.CreateAssessment(ctx, &assessment)
	if err != nil {
		log.Warn("failed to persist assessment, retrying", zap.Error(err))
		created, err = s.store.CreateAssessment(ctx, &assessment)
	}
	res.Assessment = &assessment
	if err != nil {
		// Alerts reference the assessment row, so nothing downstream can
		// run against an id that was never stored.
		log.Error("failed to persist assessment, escalation skipped",
			zap.String("risk_level", string(assessment.RiskLevel)),
			zap.Error(err),
		)
		res.Warnings = append(res.Warnings, "assessment not persisted", "escalation skipped")
		return res
	}
	if !created {
		// Same revision was already evaluated; its escalation already ran.
		log.Info("assessment exists for revision", zap.String("assessment_id", assessment.ID))
		return res
	}

	analysis := models.SampleAnalysis{
		AssessmentID:     assessment.ID,
		Revision:         sample.Revision,
		RiskLevel:        assessment.RiskLevel,
		Summary:          Summarize(assessment),
		ClassifierStatus: assessment.ClassifierStatus,
		CreatedAt:        assessment.CreatedAt,
	}
	if attached, err := s.store.AttachAnalysis(ctx, sample.ID, analysis); err != nil {
		log.Warn("failed to attach analysis", zap.Error(err))
		res.Warnings = append(res.Warnings, "analysis not attached")
	} else if attached {
		res.Sample.Analysis = &analysis
	}

	outcome, err := s.escalator.Escalate(ctx, &assessment)
	if err != nil {
		log.Error("escalation failed",
			zap.String("assessment_id", assessment.ID),
			zap.String("risk_level", string(assessment.RiskLevel)),
			zap.Error(err),
		)
		res.Warnings = append(res.Warnings, "escalation failed")
		return res
	}
	res.Escalation = &outcome
	return res
}

func (s *CheckinService) invalidate(ctx context.Context, subjectID string, log *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, subjectID); err != nil {
		log.Warn("failed to invalidate analytics cache", zap.Error(err))
	}
}

// Summarize renders a one-line description of an assessment.
func Summarize(a models.CrisisAssessment) string {
	if len(a.Signals) == 0 {
		return "risk " + string(a.RiskLevel)
	}
	labels := make([]string, 0, len(a.Signals))
	for _, sig := range a.Signals {
		labels = append(labels, sig.Label)
	}
	return fmt.Sprintf("risk %s: %s", a.RiskLevel, strings.Join(labels, ", "))
}
