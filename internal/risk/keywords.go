package risk

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"moodline/internal/models"
)

// Numeric thresholds on the canonical 1-10 scale.
const (
	MoodFloor         = models.MoodMin
	StressCeiling     = 9
	LowMoodThreshold  = 3
	SustainedLowCount = 3
)

type phraseRule struct {
	label      string
	level      models.RiskLevel
	confidence float64
	phrases    []string
}

// Phrases are matched on word boundaries after lowercasing, accent folding
// and dropping apostrophes, so "No puedo más" matches "no puedo mas".
var phraseRules = []phraseRule{
	{
		label:      "suicidal_intent",
		level:      models.RiskCritical,
		confidence: 0.95,
		phrases: []string{
			"kill myself", "end my life", "take my own life", "suicide", "suicidal",
			"quitarme la vida", "suicidarme", "matarme", "acabar con mi vida",
		},
	},
	{
		label:      "self_harm",
		level:      models.RiskHigh,
		confidence: 0.85,
		phrases: []string{
			"hurt myself", "harm myself", "self harm", "cut myself", "cutting myself",
			"hacerme dano", "lastimarme", "cortarme",
		},
	},
	{
		label:      "death_wish",
		level:      models.RiskHigh,
		confidence: 0.8,
		phrases: []string{
			"want to die", "wish i was dead", "wish i were dead", "better off dead",
			"better off without me", "quiero morir", "quiero morirme", "no quiero vivir",
			"mejor muerto", "mejor muerta", "desaparecer para siempre",
		},
	},
	{
		label:      "hopelessness",
		level:      models.RiskMedium,
		confidence: 0.6,
		phrases: []string{
			"no vale la pena", "not worth living", "no point in living", "no point anymore",
			"hopeless", "cant go on", "cannot go on", "i give up on everything",
			"sin esperanza", "no hay salida", "no puedo mas", "no sirvo para nada", "worthless",
		},
	},
}

var recommendationsByLevel = map[models.RiskLevel][]string{
	models.RiskMedium: {
		"Reach out to someone you trust today",
		"Try a short grounding or breathing exercise",
	},
	models.RiskHigh: {
		"Contact your clinician or a crisis line now",
		"Stay with someone you trust and avoid being alone",
	},
	models.RiskCritical: {
		"Call your local emergency number immediately",
	},
}

func init() {
	for i := range phraseRules {
		for j, p := range phraseRules[i].phrases {
			phraseRules[i].phrases[j] = normalizeText(p)
		}
	}
}

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, folds accents, drops apostrophes and collapses
// everything else that is not a letter or digit into single spaces. The
// result is padded with one space on each side for boundary matching.
func normalizeText(s string) string {
	folded, _, err := transform.String(folder, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(folded) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range folded {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// KeywordPass is the deterministic half of the extractor. It is total and
// side-effect free; an empty note still yields a verdict.
func KeywordPass(sample models.MoodSample, history []models.MoodSample) Verdict {
	v := Verdict{Level: models.RiskLow}

	if sample.Notes != "" {
		text := normalizeText(sample.Notes)
		for _, rule := range phraseRules {
			for _, p := range rule.phrases {
				if strings.Contains(text, p) {
					v.addSignal(models.OriginKeyword, rule.label, rule.confidence)
					v.Level = models.MaxRisk(v.Level, rule.level)
					break
				}
			}
		}
	}

	if sample.Mood <= MoodFloor && sample.Stress != nil && *sample.Stress >= StressCeiling {
		v.addSignal(models.OriginKeyword, "floor_mood_peak_stress", 0.7)
		v.Level = v.Level.Elevate(1)
	}

	if sustainedLowMood(sample, history) {
		v.addSignal(models.OriginKeyword, "sustained_low_mood", 0.5)
		v.Level = models.MaxRisk(v.Level, models.RiskMedium)
	}

	v.Recommendations = RecommendationsFor(v.Level)
	return v
}

// sustainedLowMood reports whether the latest SustainedLowCount samples,
// including the current one, are all at or below LowMoodThreshold.
func sustainedLowMood(sample models.MoodSample, history []models.MoodSample) bool {
	merged := make([]models.MoodSample, 0, len(history)+1)
	for _, h := range history {
		if h.ID != "" && h.ID == sample.ID {
			continue
		}
		if h.CreatedAt.After(sample.CreatedAt) {
			continue
		}
		merged = append(merged, h)
	}
	merged = append(merged, sample)
	if len(merged) < SustainedLowCount {
		return false
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.Before(merged[j].CreatedAt) })
	for _, s := range merged[len(merged)-SustainedLowCount:] {
		if s.Mood > LowMoodThreshold {
			return false
		}
	}
	return true
}

// RecommendationsFor lists actions for level, most urgent first.
func RecommendationsFor(level models.RiskLevel) []string {
	out := []string{}
	for r := level.Rank(); r >= models.RiskMedium.Rank(); r-- {
		out = append(out, recommendationsByLevel[models.RiskLow.Elevate(r)]...)
	}
	return out
}
