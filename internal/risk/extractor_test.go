package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"moodline/internal/models"
)

type stubClassifier struct {
	verdict *Verdict
	err     error
	delay   time.Duration
	calls   int
	last    ClassifierRequest
}

func (s *stubClassifier) Classify(_ context.Context, req ClassifierRequest) (*Verdict, error) {
	s.calls++
	s.last = req
	if s.delay > 0 {
		time.Sleep(s.delay) // ignores ctx on purpose
	}
	return s.verdict, s.err
}

func crisisSample() models.MoodSample {
	return models.MoodSample{
		ID:        "sample-1",
		SubjectID: "subject-1",
		Mood:      1,
		Stress:    intPtr(9),
		Notes:     "no vale la pena",
		Revision:  1,
		CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func TestAssessRisk_KeywordOnlyScenario(t *testing.T) {
	e := NewExtractor(nil, time.Second, zap.NewNop())

	a := e.AssessRisk(context.Background(), crisisSample(), nil)

	assert.Equal(t, models.RiskHigh, a.RiskLevel)
	assert.Equal(t, models.ClassifierDisabled, a.ClassifierStatus)
	assert.Equal(t, "sample-1", a.SourceSampleID)
	assert.Equal(t, "subject-1", a.SubjectID)
	assert.Equal(t, 1, a.SourceRevision)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.NotificationSent)
}

func TestAssessRisk_ClassifierRaisesLevel(t *testing.T) {
	stub := &stubClassifier{verdict: &Verdict{
		Level:   models.RiskCritical,
		Signals: []models.Signal{{Origin: models.OriginClassifier, Label: "plan", Confidence: 0.9}},
	}}
	e := NewExtractor(stub, time.Second, zap.NewNop())
	history := []models.MoodSample{
		{ID: "old", Mood: 4, CreatedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)},
	}

	a := e.AssessRisk(context.Background(), crisisSample(), history)

	assert.Equal(t, models.RiskCritical, a.RiskLevel)
	assert.Equal(t, models.ClassifierOK, a.ClassifierStatus)
	assert.Contains(t, labels(a.Signals), "plan")
	assert.Contains(t, labels(a.Signals), "hopelessness")
	assert.Equal(t, []int{4, 1}, stub.last.MoodTrajectory)
}

func TestAssessRisk_ClassifierFailureFallsBackToKeywordVerdict(t *testing.T) {
	keywordOnly := NewExtractor(nil, time.Second, zap.NewNop()).AssessRisk(context.Background(), crisisSample(), nil)
	e := NewExtractor(&stubClassifier{err: errors.New("quota exceeded")}, time.Second, zap.NewNop())

	a := e.AssessRisk(context.Background(), crisisSample(), nil)

	assert.Equal(t, models.ClassifierFailed, a.ClassifierStatus)
	assert.Equal(t, "quota exceeded", a.ClassifierError)
	assert.Equal(t, keywordOnly.RiskLevel, a.RiskLevel)
	assert.Equal(t, keywordOnly.Signals, a.Signals)
	assert.Equal(t, keywordOnly.Recommendations, a.Recommendations)
}

func TestAssessRisk_NoSignalResponse(t *testing.T) {
	e := NewExtractor(&stubClassifier{err: ErrNoSignal}, time.Second, zap.NewNop())

	a := e.AssessRisk(context.Background(), crisisSample(), nil)

	assert.Equal(t, models.ClassifierNoSignal, a.ClassifierStatus)
	assert.Equal(t, models.RiskHigh, a.RiskLevel)
}

func TestAssessRisk_TimeoutReturnsWithinBound(t *testing.T) {
	stub := &stubClassifier{delay: 2 * time.Second, verdict: &Verdict{Level: models.RiskCritical}}
	e := NewExtractor(stub, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	a := e.AssessRisk(context.Background(), crisisSample(), nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, models.ClassifierTimeout, a.ClassifierStatus)
	assert.Equal(t, models.RiskHigh, a.RiskLevel)
}

func TestAssessRisk_EmptyNoteSkipsClassifier(t *testing.T) {
	stub := &stubClassifier{verdict: &Verdict{Level: models.RiskCritical}}
	e := NewExtractor(stub, time.Second, zap.NewNop())

	a := e.AssessRisk(context.Background(), models.MoodSample{ID: "s", SubjectID: "subject-1", Mood: 7}, nil)

	assert.Equal(t, 0, stub.calls)
	assert.Equal(t, models.ClassifierSkipped, a.ClassifierStatus)
	assert.Equal(t, models.RiskLow, a.RiskLevel)
	assert.NotNil(t, a.Signals)
	assert.NotNil(t, a.Recommendations)
}

func TestTrajectory_CapsAndOrders(t *testing.T) {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	var history []models.MoodSample
	for i := 0; i < 20; i++ {
		history = append(history, models.MoodSample{ID: string(rune('a' + i)), Mood: i%10 + 1, CreatedAt: base.AddDate(0, 0, 19-i)})
	}
	current := models.MoodSample{ID: "now", Mood: 3, CreatedAt: base.AddDate(0, 0, 30)}

	tr := Trajectory(current, history)

	assert.Len(t, tr, trajectoryLength)
	assert.Equal(t, 3, tr[len(tr)-1])
}
