package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moodline/internal/live"
	"moodline/internal/models"
)

// MemoryStore keeps everything in process. It is used when no database is
// configured and by tests.
type MemoryStore struct {
	changes

	mu          sync.RWMutex
	samples     map[string]models.MoodSample
	assessments map[string]models.CrisisAssessment
	bySource    map[string]string
	alerts      map[string]models.CrisisAlert
	subjects    map[string]models.Subject
	now         func() time.Time
}

func NewMemoryStore(feed live.Feed, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		changes:     changes{feed: feed, logger: logger},
		samples:     make(map[string]models.MoodSample),
		assessments: make(map[string]models.CrisisAssessment),
		bySource:    make(map[string]string),
		alerts:      make(map[string]models.CrisisAlert),
		subjects:    make(map[string]models.Subject),
		now:         time.Now,
	}
}

func cloneSample(s models.MoodSample) models.MoodSample {
	s.Activities = append([]string{}, s.Activities...)
	s.Emotions = append([]string{}, s.Emotions...)
	if s.Analysis != nil {
		a := *s.Analysis
		s.Analysis = &a
	}
	return s
}

func cloneAssessment(a models.CrisisAssessment) models.CrisisAssessment {
	a.Signals = append([]models.Signal{}, a.Signals...)
	a.Recommendations = append([]string{}, a.Recommendations...)
	return a
}

func sourceKey(sampleID string, revision int) string {
	return fmt.Sprintf("%s#%d", sampleID, revision)
}

func (m *MemoryStore) Insert(ctx context.Context, s *models.MoodSample) error {
	if s.SubjectID == "" {
		return fmt.Errorf("%w: subject is required", models.ErrInvalidSample)
	}
	m.mu.Lock()
	s.ID = uuid.NewString()
	s.CreatedAt = m.now().UTC()
	s.UpdatedAt = s.CreatedAt
	if s.Revision == 0 {
		s.Revision = 1
	}
	m.samples[s.ID] = cloneSample(*s)
	m.mu.Unlock()

	m.publish(ctx, models.ChangeSampleCreated, s)
	return nil
}

func (m *MemoryStore) GetSample(_ context.Context, subjectID, sampleID string) (*models.MoodSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[sampleID]
	if !ok || s.SubjectID != subjectID {
		return nil, ErrNotFound
	}
	out := cloneSample(s)
	return &out, nil
}

// RangeQuery returns the subject's samples with from <= createdAt <= to,
// oldest first.
func (m *MemoryStore) RangeQuery(_ context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error) {
	m.mu.RLock()
	out := []models.MoodSample{}
	for _, s := range m.samples {
		if s.SubjectID != subjectID || s.CreatedAt.Before(from) || s.CreatedAt.After(to) {
			continue
		}
		out = append(out, cloneSample(s))
	}
	m.mu.RUnlock()
	models.SortByCreatedAt(out)
	return out, nil
}

// UpdateSample stores an edited sample whose Revision was bumped by exactly
// one from the stored copy.
func (m *MemoryStore) UpdateSample(ctx context.Context, s *models.MoodSample) error {
	m.mu.Lock()
	cur, ok := m.samples[s.ID]
	if !ok || cur.SubjectID != s.SubjectID {
		m.mu.Unlock()
		return ErrNotFound
	}
	if s.Revision != cur.Revision+1 {
		m.mu.Unlock()
		return ErrStaleRevision
	}
	s.CreatedAt = cur.CreatedAt
	s.UpdatedAt = m.now().UTC()
	s.Analysis = nil
	m.samples[s.ID] = cloneSample(*s)
	m.mu.Unlock()

	m.publish(ctx, models.ChangeSampleUpdated, s)
	return nil
}

func (m *MemoryStore) AttachAnalysis(_ context.Context, sampleID string, a models.SampleAnalysis) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[sampleID]
	if !ok {
		return false, ErrNotFound
	}
	if s.Analysis != nil || s.Revision != a.Revision {
		return false, nil
	}
	s.Analysis = &a
	m.samples[sampleID] = s
	return true, nil
}

func (m *MemoryStore) CreateAssessment(_ context.Context, a *models.CrisisAssessment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sourceKey(a.SourceSampleID, a.SourceRevision)
	if id, ok := m.bySource[key]; ok {
		*a = cloneAssessment(m.assessments[id])
		return false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.assessments[a.ID] = cloneAssessment(*a)
	m.bySource[key] = a.ID
	return true, nil
}

func (m *MemoryStore) ListAssessments(_ context.Context, subjectID string, limit int) ([]models.CrisisAssessment, error) {
	m.mu.RLock()
	out := []models.CrisisAssessment{}
	for _, a := range m.assessments {
		if a.SubjectID == subjectID {
			out = append(out, cloneAssessment(a))
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = effectiveLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkAssessmentNotified(_ context.Context, assessmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[assessmentID]
	if !ok {
		return false, ErrNotFound
	}
	if a.NotificationSent {
		return false, nil
	}
	a.NotificationSent = true
	m.assessments[assessmentID] = a
	return true, nil
}

// CreateAlertIfNoneOpen checks and inserts under one lock, so concurrent
// callers for the same subject see at most one success.
func (m *MemoryStore) CreateAlertIfNoneOpen(_ context.Context, alert *models.CrisisAlert) (bool, *models.CrisisAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.SubjectID == alert.SubjectID && !a.Resolved {
			open := a
			return false, &open, nil
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	m.alerts[alert.ID] = *alert
	return true, nil, nil
}

func (m *MemoryStore) UpdateLatestAssessment(_ context.Context, alertID, assessmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	a.LatestAssessmentID = assessmentID
	a.UpdatedAt = m.now().UTC()
	m.alerts[alertID] = a
	return nil
}

func (m *MemoryStore) SetNotificationStatus(_ context.Context, alertID string, status models.NotificationStatus, detail *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	a.NotificationStatus = status
	a.NotificationError = detail
	a.UpdatedAt = m.now().UTC()
	m.alerts[alertID] = a
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, alertID string) (*models.CrisisAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// ResolveAlert closes the alert and marks the subject's outstanding
// assessments resolved. It returns false when the alert is missing or
// already closed.
func (m *MemoryStore) ResolveAlert(_ context.Context, alertID, actorID string, note *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.Resolved {
		return false, nil
	}
	a.Resolved = true
	a.ResolvedBy = &actorID
	a.ResolvedAt = &at
	a.ResolutionNote = note
	a.UpdatedAt = at
	m.alerts[alertID] = a

	for id, as := range m.assessments {
		if as.SubjectID == a.SubjectID && !as.Resolved && !as.CreatedAt.After(at) {
			as.Resolved = true
			m.assessments[id] = as
		}
	}
	return true, nil
}

func (m *MemoryStore) LatestAlert(_ context.Context, subjectID string) (*models.CrisisAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.CrisisAlert
	for _, a := range m.alerts {
		if a.SubjectID != subjectID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			a := a
			latest = &a
		}
	}
	return latest, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, subjectID string, limit int) ([]models.CrisisAlert, error) {
	m.mu.RLock()
	out := []models.CrisisAlert{}
	for _, a := range m.alerts {
		if subjectID == "" || a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = effectiveLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateSubject(_ context.Context, s *models.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	for _, existing := range m.subjects {
		if existing.Email == s.Email {
			return ErrConflict
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	s.CreatedAt = m.now().UTC()
	m.subjects[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSubject(_ context.Context, id string) (*models.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) GetSubjectByEmail(_ context.Context, email string) (*models.Subject, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subjects {
		if s.Email == email {
			s := s
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateProfile(_ context.Context, id string, p ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return ErrNotFound
	}
	if p.FirstName != nil {
		s.FirstName = p.FirstName
	}
	if p.LastName != nil {
		s.LastName = p.LastName
	}
	if p.Timezone != nil {
		s.Timezone = *p.Timezone
	}
	if p.ResponsiblePartyID != nil {
		if *p.ResponsiblePartyID == "" {
			s.ResponsiblePartyID = nil
		} else {
			s.ResponsiblePartyID = p.ResponsiblePartyID
		}
	}
	m.subjects[id] = s
	return nil
}

func (m *MemoryStore) FindResponsibleParty(_ context.Context, subjectID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[subjectID]
	if !ok || s.ResponsiblePartyID == nil || *s.ResponsiblePartyID == "" {
		return "", false, nil
	}
	return *s.ResponsiblePartyID, true, nil
}

func (m *MemoryStore) Overview(_ context.Context) (Overview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Overview{
		TotalSubjects: len(m.subjects),
		TotalSamples:  len(m.samples),
		Open:          []models.CrisisAlert{},
	}
	since := m.now().UTC().AddDate(0, 0, -7)
	for _, s := range m.samples {
		if !s.CreatedAt.Before(since) {
			out.SamplesLast7Days++
		}
	}
	for _, a := range m.alerts {
		if a.NotificationStatus == models.NotificationFailed {
			out.NotificationFailures++
		}
		if !a.Resolved {
			out.OpenAlerts++
			out.Open = append(out.Open, a)
		}
	}
	sort.SliceStable(out.Open, func(i, j int) bool { return out.Open[i].CreatedAt.After(out.Open[j].CreatedAt) })
	return out, nil
}
