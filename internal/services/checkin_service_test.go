package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moodline/internal/escalation"
	"moodline/internal/models"
	"moodline/internal/risk"
	"moodline/internal/store"
)

type countingNotifier struct{ calls int }

func (n *countingNotifier) Notify(context.Context, string, models.AlertSummary) (bool, error) {
	n.calls++
	return true, nil
}

type countingCache struct{ invalidated []string }

func (c *countingCache) Invalidate(_ context.Context, subjectID string) error {
	c.invalidated = append(c.invalidated, subjectID)
	return nil
}

type pipeline struct {
	store    *store.MemoryStore
	notifier *countingNotifier
	cache    *countingCache
	svc      *CheckinService
	subject  *models.Subject
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore(nil, zap.NewNop())
	subject := &models.Subject{Email: "subject@example.com"}
	require.NoError(t, st.CreateSubject(ctx, subject))
	party := "clinician-1"
	require.NoError(t, st.UpdateProfile(ctx, subject.ID, store.ProfileUpdate{ResponsiblePartyID: &party}))

	n := &countingNotifier{}
	c := &countingCache{}
	coord := escalation.NewCoordinator(st, st, n, escalation.Options{}, zap.NewNop())
	svc := NewCheckinService(st, risk.NewExtractor(nil, time.Second, zap.NewNop()), coord, c, 7, zap.NewNop())
	return &pipeline{store: st, notifier: n, cache: c, svc: svc, subject: subject}
}

func TestSubmit_CrisisScenarioEscalates(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	stress := 9

	res, err := p.svc.Submit(ctx, p.subject.ID, models.SampleInput{Mood: 1, Stress: &stress, Notes: "no vale la pena"})

	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Assessment)
	assert.Equal(t, models.RiskHigh, res.Assessment.RiskLevel)
	assert.True(t, res.Assessment.NotificationSent)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, escalation.ActionCreated, res.Escalation.Action)
	assert.Equal(t, 1, p.notifier.calls)

	require.NotNil(t, res.Sample.Analysis)
	assert.Equal(t, models.RiskHigh, res.Sample.Analysis.RiskLevel)
	assert.Equal(t, "risk high: hopelessness, floor_mood_peak_stress", res.Sample.Analysis.Summary)

	stored, err := p.store.ListAssessments(ctx, p.subject.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Sample.ID, stored[0].SourceSampleID)
	assert.True(t, stored[0].NotificationSent)
	assert.Equal(t, []string{p.subject.ID}, p.cache.invalidated)
}

func TestSubmit_LowRiskDoesNotEscalate(t *testing.T) {
	p := newPipeline(t)

	res, err := p.svc.Submit(context.Background(), p.subject.ID, models.SampleInput{Mood: 8, Notes: "good run this morning"})

	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, res.Assessment.RiskLevel)
	assert.Equal(t, escalation.ActionNone, res.Escalation.Action)
	assert.Equal(t, 0, p.notifier.calls)
}

func TestSubmit_SecondHighRiskSampleIsSuppressed(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.svc.Submit(ctx, p.subject.ID, models.SampleInput{Mood: 2, Notes: "I want to die"})
	require.NoError(t, err)
	res, err := p.svc.Submit(ctx, p.subject.ID, models.SampleInput{Mood: 2, Notes: "still hopeless"})
	require.NoError(t, err)

	assert.Equal(t, escalation.ActionSuppressed, res.Escalation.Action)
	assert.Equal(t, 1, p.notifier.calls)
}

func TestSubmit_InvalidInput(t *testing.T) {
	p := newPipeline(t)

	_, err := p.svc.Submit(context.Background(), p.subject.ID, models.SampleInput{Mood: 0})

	assert.ErrorIs(t, err, models.ErrInvalidSample)
}

type failingInsertStore struct {
	*store.MemoryStore
}

func (failingInsertStore) Insert(context.Context, *models.MoodSample) error {
	return errors.New("connection refused")
}

func TestSubmit_InsertFailureIsHardError(t *testing.T) {
	p := newPipeline(t)
	svc := NewCheckinService(failingInsertStore{p.store}, risk.NewExtractor(nil, time.Second, zap.NewNop()),
		escalation.NewCoordinator(p.store, p.store, p.notifier, escalation.Options{}, zap.NewNop()), nil, 7, zap.NewNop())

	res, err := svc.Submit(context.Background(), p.subject.ID, models.SampleInput{Mood: 1, Notes: "no vale la pena"})

	assert.Nil(t, res)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 0, p.notifier.calls)
}

type failingHistoryStore struct {
	*store.MemoryStore
}

func (failingHistoryStore) RangeQuery(context.Context, string, time.Time, time.Time) ([]models.MoodSample, error) {
	return nil, errors.New("replica lag")
}

func TestSubmit_HistoryFailureStillAssesses(t *testing.T) {
	p := newPipeline(t)
	coord := escalation.NewCoordinator(p.store, p.store, p.notifier, escalation.Options{}, zap.NewNop())
	svc := NewCheckinService(failingHistoryStore{p.store}, risk.NewExtractor(nil, time.Second, zap.NewNop()), coord, nil, 7, zap.NewNop())

	res, err := svc.Submit(context.Background(), p.subject.ID, models.SampleInput{Mood: 3, Notes: "I feel hopeless"})

	require.NoError(t, err)
	assert.Equal(t, []string{"recent history unavailable"}, res.Warnings)
	assert.Equal(t, models.RiskMedium, res.Assessment.RiskLevel)
	assert.Equal(t, escalation.ActionCreated, res.Escalation.Action)
}

func crisisInput() models.SampleInput {
	stress := 9
	return models.SampleInput{Mood: 1, Stress: &stress, Notes: "no vale la pena"}
}

type failingAssessmentStore struct {
	*store.MemoryStore
	failures int
	calls    int
}

func (f *failingAssessmentStore) CreateAssessment(ctx context.Context, a *models.CrisisAssessment) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("deadlock detected")
	}
	return f.MemoryStore.CreateAssessment(ctx, a)
}

func TestSubmit_UnpersistedAssessmentSkipsEscalation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	st := &failingAssessmentStore{MemoryStore: p.store, failures: 2}
	coord := escalation.NewCoordinator(p.store, p.store, p.notifier, escalation.Options{}, zap.NewNop())
	svc := NewCheckinService(st, risk.NewExtractor(nil, time.Second, zap.NewNop()), coord, p.cache, 7, zap.NewNop())

	res, err := svc.Submit(ctx, p.subject.ID, crisisInput())

	require.NoError(t, err)
	assert.Equal(t, 2, st.calls)
	assert.Equal(t, []string{"assessment not persisted", "escalation skipped"}, res.Warnings)
	require.NotNil(t, res.Assessment)
	assert.Equal(t, models.RiskHigh, res.Assessment.RiskLevel)
	assert.Nil(t, res.Escalation)
	assert.Nil(t, res.Sample.Analysis)
	assert.Equal(t, 0, p.notifier.calls)

	alerts, err := p.store.ListAlerts(ctx, p.subject.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, []string{p.subject.ID}, p.cache.invalidated)
}

func TestSubmit_AssessmentRetriedOnce(t *testing.T) {
	p := newPipeline(t)
	st := &failingAssessmentStore{MemoryStore: p.store, failures: 1}
	coord := escalation.NewCoordinator(p.store, p.store, p.notifier, escalation.Options{}, zap.NewNop())
	svc := NewCheckinService(st, risk.NewExtractor(nil, time.Second, zap.NewNop()), coord, nil, 7, zap.NewNop())

	res, err := svc.Submit(context.Background(), p.subject.ID, crisisInput())

	require.NoError(t, err)
	assert.Equal(t, 2, st.calls)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, escalation.ActionCreated, res.Escalation.Action)
	assert.Equal(t, 1, p.notifier.calls)
}

func TestEdit_ReassessesNewRevision(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.svc.Submit(ctx, p.subject.ID, models.SampleInput{Mood: 6, Notes: "fine"})
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, first.Assessment.RiskLevel)

	edited, err := p.svc.Edit(ctx, p.subject.ID, first.Sample.ID, models.SampleInput{Mood: 2, Notes: "actually I can't go on"})
	require.NoError(t, err)

	assert.Equal(t, 2, edited.Sample.Revision)
	assert.Equal(t, models.RiskMedium, edited.Assessment.RiskLevel)
	assert.Equal(t, 2, edited.Assessment.SourceRevision)
	require.NotNil(t, edited.Sample.Analysis)
	assert.Equal(t, 2, edited.Sample.Analysis.Revision)

	all, err := p.store.ListAssessments(ctx, p.subject.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = p.svc.Edit(ctx, p.subject.ID, "missing", models.SampleInput{Mood: 5})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "risk low", Summarize(models.CrisisAssessment{RiskLevel: models.RiskLow}))
}
