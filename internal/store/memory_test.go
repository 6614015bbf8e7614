package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moodline/internal/live"
	"moodline/internal/models"
)

// steppingClock advances one minute per call so inserts are strictly
// ordered.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newTestMemoryStore(feed live.Feed) *MemoryStore {
	m := NewMemoryStore(feed, zap.NewNop())
	m.now = steppingClock(time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))
	return m
}

func mustInsert(t *testing.T, m *MemoryStore, subjectID string, mood int) models.MoodSample {
	t.Helper()
	s, err := models.NewSample(subjectID, models.SampleInput{Mood: mood})
	require.NoError(t, err)
	require.NoError(t, m.Insert(context.Background(), &s))
	return s
}

func TestMemoryStore_InsertPublishesAndRangeQuery(t *testing.T) {
	feed := live.NewLocalFeed()
	m := newTestMemoryStore(feed)
	ctx := context.Background()

	var events []models.ChangeEvent
	unsubscribe, err := m.Subscribe(ctx, "subject-1", func(ev models.ChangeEvent) { events = append(events, ev) })
	require.NoError(t, err)
	defer unsubscribe()

	a := mustInsert(t, m, "subject-1", 4)
	b := mustInsert(t, m, "subject-1", 6)
	mustInsert(t, m, "subject-2", 9)

	assert.NotEmpty(t, a.ID)
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
	require.Len(t, events, 2)
	assert.Equal(t, a.ID, events[0].SampleID)
	assert.Equal(t, models.ChangeSampleCreated, events[0].Kind)

	got, err := m.RangeQuery(ctx, "subject-1", a.CreatedAt, b.CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)

	got, err = m.RangeQuery(ctx, "subject-1", a.CreatedAt.Add(time.Second), b.CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}

func TestMemoryStore_GetSampleIsScopedToSubject(t *testing.T) {
	m := newTestMemoryStore(nil)
	s := mustInsert(t, m, "subject-1", 5)

	_, err := m.GetSample(context.Background(), "subject-2", s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetSample(context.Background(), "subject-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Mood)
}

func TestMemoryStore_UpdateSampleRevisions(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()
	s := mustInsert(t, m, "subject-1", 5)

	stale := s
	require.NoError(t, s.ApplyEdit(models.SampleInput{Mood: 3}))
	require.NoError(t, m.UpdateSample(ctx, &s))
	assert.Equal(t, 2, s.Revision)

	require.NoError(t, stale.ApplyEdit(models.SampleInput{Mood: 9}))
	assert.ErrorIs(t, m.UpdateSample(ctx, &stale), ErrStaleRevision)

	got, err := m.GetSample(ctx, "subject-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Mood)
}

func TestMemoryStore_AttachAnalysisIsWriteOncePerRevision(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()
	s := mustInsert(t, m, "subject-1", 5)

	ok, err := m.AttachAnalysis(ctx, s.ID, models.SampleAnalysis{Revision: 1, RiskLevel: models.RiskLow})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AttachAnalysis(ctx, s.ID, models.SampleAnalysis{Revision: 1, RiskLevel: models.RiskHigh})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ApplyEdit(models.SampleInput{Mood: 2}))
	require.NoError(t, m.UpdateSample(ctx, &s))

	ok, err = m.AttachAnalysis(ctx, s.ID, models.SampleAnalysis{Revision: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.AttachAnalysis(ctx, s.ID, models.SampleAnalysis{Revision: 2, RiskLevel: models.RiskMedium})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.AttachAnalysis(ctx, "missing", models.SampleAnalysis{Revision: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateAssessmentOncePerRevision(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()

	first := &models.CrisisAssessment{ID: "a1", SubjectID: "subject-1", SourceSampleID: "s1", SourceRevision: 1, RiskLevel: models.RiskHigh}
	created, err := m.CreateAssessment(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.CrisisAssessment{ID: "a2", SubjectID: "subject-1", SourceSampleID: "s1", SourceRevision: 1, RiskLevel: models.RiskLow}
	created, err = m.CreateAssessment(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a1", dup.ID)
	assert.Equal(t, models.RiskHigh, dup.RiskLevel)

	flipped, err := m.MarkAssessmentNotified(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = m.MarkAssessmentNotified(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestMemoryStore_ListAssessmentsNewestFirst(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for id, hours := range map[string]int{"old": 0, "mid": 1, "new": 2} {
		_, err := m.CreateAssessment(ctx, &models.CrisisAssessment{
			ID: id, SubjectID: "subject-1", SourceSampleID: id, SourceRevision: 1,
			CreatedAt: base.Add(time.Duration(hours) * time.Hour),
		})
		require.NoError(t, err)
	}

	got, err := m.ListAssessments(ctx, "subject-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestMemoryStore_ConcurrentAlertCreation(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, _, err := m.CreateAlertIfNoneOpen(ctx, &models.CrisisAlert{SubjectID: "subject-1", Urgency: models.RiskHigh})
			assert.NoError(t, err)
			results[i] = created
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for _, c := range results {
		if c {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
}

func TestMemoryStore_ResolveReopensEpisode(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	_, err := m.CreateAssessment(ctx, &models.CrisisAssessment{ID: "a1", SubjectID: "subject-1", SourceSampleID: "s1", SourceRevision: 1, CreatedAt: at.Add(-time.Hour)})
	require.NoError(t, err)
	first := &models.CrisisAlert{ID: "alert-1", SubjectID: "subject-1", AssessmentID: "a1", CreatedAt: at.Add(-time.Hour)}
	created, _, err := m.CreateAlertIfNoneOpen(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	note := "spoke with subject"
	ok, err := m.ResolveAlert(ctx, "alert-1", "clinician-1", &note, at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.ResolveAlert(ctx, "alert-1", "clinician-1", nil, at)
	require.NoError(t, err)
	assert.False(t, ok)

	assessments, err := m.ListAssessments(ctx, "subject-1", 0)
	require.NoError(t, err)
	assert.True(t, assessments[0].Resolved)

	created, _, err = m.CreateAlertIfNoneOpen(ctx, &models.CrisisAlert{ID: "alert-2", SubjectID: "subject-1", CreatedAt: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, created)

	latest, err := m.LatestAlert(ctx, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "alert-2", latest.ID)

	missing, err := m.GetAlert(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_Subjects(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()

	s := &models.Subject{Email: " Ana@Example.com ", PasswordHash: "hash"}
	require.NoError(t, m.CreateSubject(ctx, s))
	assert.Equal(t, "ana@example.com", s.Email)
	assert.Equal(t, "UTC", s.Timezone)
	assert.ErrorIs(t, m.CreateSubject(ctx, &models.Subject{Email: "ana@example.com"}), ErrConflict)

	_, ok, err := m.FindResponsibleParty(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	tz, party := "America/Bogota", "clinician-7"
	require.NoError(t, m.UpdateProfile(ctx, s.ID, ProfileUpdate{Timezone: &tz, ResponsiblePartyID: &party}))
	got, ok, err := m.FindResponsibleParty(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "clinician-7", got)

	none := ""
	require.NoError(t, m.UpdateProfile(ctx, s.ID, ProfileUpdate{ResponsiblePartyID: &none}))
	byEmail, err := m.GetSubjectByEmail(ctx, "ANA@example.com")
	require.NoError(t, err)
	assert.Nil(t, byEmail.ResponsiblePartyID)
	assert.Equal(t, "America/Bogota", byEmail.Timezone)

	assert.ErrorIs(t, m.UpdateProfile(ctx, "missing", ProfileUpdate{}), ErrNotFound)
}

func TestMemoryStore_Overview(t *testing.T) {
	m := newTestMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, m.CreateSubject(ctx, &models.Subject{Email: "a@example.com"}))
	mustInsert(t, m, "subject-1", 5)
	_, _, err := m.CreateAlertIfNoneOpen(ctx, &models.CrisisAlert{ID: "alert-1", SubjectID: "subject-1", NotificationStatus: models.NotificationFailed})
	require.NoError(t, err)

	ov, err := m.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.TotalSubjects)
	assert.Equal(t, 1, ov.TotalSamples)
	assert.Equal(t, 1, ov.SamplesLast7Days)
	assert.Equal(t, 1, ov.OpenAlerts)
	assert.Equal(t, 1, ov.NotificationFailures)
	require.Len(t, ov.Open, 1)
}
