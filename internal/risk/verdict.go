package risk

import "moodline/internal/models"

// Verdict is one opinion about a sample's risk.
type Verdict struct {
	Level           models.RiskLevel
	Signals         []models.Signal
	Recommendations []string
}

func (v *Verdict) addSignal(origin models.SignalOrigin, label string, confidence float64) {
	v.Signals = append(v.Signals, models.Signal{Origin: origin, Label: label, Confidence: confidence})
}

// Merge resolves disagreement toward caution: the higher level wins and
// signals and recommendations are unioned, keyword entries first,
// de-duplicated by label. A nil classifier verdict returns the keyword
// verdict unchanged.
func Merge(keyword Verdict, classifier *Verdict) Verdict {
	if classifier == nil {
		return keyword
	}
	out := Verdict{
		Level:           models.MaxRisk(keyword.Level, classifier.Level),
		Signals:         []models.Signal{},
		Recommendations: []string{},
	}
	seen := map[string]struct{}{}
	for _, list := range [][]models.Signal{keyword.Signals, classifier.Signals} {
		for _, s := range list {
			if _, ok := seen[s.Label]; ok {
				continue
			}
			seen[s.Label] = struct{}{}
			out.Signals = append(out.Signals, s)
		}
	}
	seenRec := map[string]struct{}{}
	for _, list := range [][]string{RecommendationsFor(out.Level), keyword.Recommendations, classifier.Recommendations} {
		for _, r := range list {
			if _, ok := seenRec[r]; ok {
				continue
			}
			seenRec[r] = struct{}{}
			out.Recommendations = append(out.Recommendations, r)
		}
	}
	return out
}
