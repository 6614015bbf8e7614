package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"moodline/internal/models"
)

func intPtr(i int) *int { return &i }

func labels(signals []models.Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Label)
	}
	return out
}

func TestKeywordPass_EmptyNoteIsLow(t *testing.T) {
	v := KeywordPass(models.MoodSample{Mood: 6}, nil)

	assert.Equal(t, models.RiskLow, v.Level)
	assert.Empty(t, v.Signals)
	assert.Empty(t, v.Recommendations)
}

func TestKeywordPass_HopelessnessWithFloorMoodAndPeakStress(t *testing.T) {
	s := models.MoodSample{Mood: 1, Stress: intPtr(9), Notes: "Hoy siento que no vale la pena."}

	v := KeywordPass(s, nil)

	assert.Equal(t, models.RiskHigh, v.Level)
	assert.Equal(t, []string{"hopelessness", "floor_mood_peak_stress"}, labels(v.Signals))
	assert.Contains(t, v.Recommendations, "Contact your clinician or a crisis line now")
}

func TestKeywordPass_PhraseMatching(t *testing.T) {
	tests := []struct {
		name  string
		notes string
		want  models.RiskLevel
		label string
	}{
		{"accent folded", "Ya no puedo MÁS con esto", models.RiskMedium, "hopelessness"},
		{"curly apostrophe", "I can’t go on like this", models.RiskMedium, "hopelessness"},
		{"intent", "sometimes I think about suicide", models.RiskCritical, "suicidal_intent"},
		{"spanish intent", "Quiero quitarme la vida", models.RiskCritical, "suicidal_intent"},
		{"self harm hyphen", "urges to self-harm again", models.RiskHigh, "self_harm"},
		{"death wish", "honestly they'd be better off without me", models.RiskHigh, "death_wish"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := KeywordPass(models.MoodSample{Mood: 5, Notes: tt.notes}, nil)
			assert.Equal(t, tt.want, v.Level)
			assert.Contains(t, labels(v.Signals), tt.label)
		})
	}
}

func TestKeywordPass_RequiresWordBoundaries(t *testing.T) {
	v := KeywordPass(models.MoodSample{Mood: 7, Notes: "Read about suicidepreventionweek campaigns"}, nil)

	assert.Equal(t, models.RiskLow, v.Level)
}

func TestKeywordPass_FloorMoodAloneDoesNotElevate(t *testing.T) {
	v := KeywordPass(models.MoodSample{Mood: 1, Stress: intPtr(5)}, nil)

	assert.Equal(t, models.RiskLow, v.Level)
}

func TestKeywordPass_NumericElevationFromLow(t *testing.T) {
	v := KeywordPass(models.MoodSample{Mood: 1, Stress: intPtr(10)}, nil)

	assert.Equal(t, models.RiskMedium, v.Level)
}

func TestKeywordPass_SustainedLowMood(t *testing.T) {
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	current := models.MoodSample{ID: "c", Mood: 2, CreatedAt: base.Add(48 * time.Hour)}
	history := []models.MoodSample{
		{ID: "a", Mood: 3, CreatedAt: base},
		{ID: "b", Mood: 2, CreatedAt: base.Add(24 * time.Hour)},
		current,
	}

	v := KeywordPass(current, history)
	assert.Equal(t, models.RiskMedium, v.Level)
	assert.Contains(t, labels(v.Signals), "sustained_low_mood")

	history[1].Mood = 6
	v = KeywordPass(current, history)
	assert.Equal(t, models.RiskLow, v.Level)
}

func TestRecommendationsFor(t *testing.T) {
	assert.Empty(t, RecommendationsFor(models.RiskLow))
	assert.Len(t, RecommendationsFor(models.RiskMedium), 2)
	critical := RecommendationsFor(models.RiskCritical)
	assert.Equal(t, "Call your local emergency number immediately", critical[0])
	assert.Len(t, critical, 5)
}
