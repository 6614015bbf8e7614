package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Canonical ranges. Every stored sample has its mood within [MoodMin, MoodMax].
const (
	MoodMin   = 1
	MoodMax   = 10
	MetricMin = 1
	MetricMax = 10

	MaxNotesLength = 5000
	maxTagLength   = 40
)

var ErrInvalidSample = errors.New("invalid sample")

// MoodSample is one check-in. Energy, Stress and Sleep are nil when the
// subject did not report them.
type MoodSample struct {
	ID         string          `json:"id"`
	SubjectID  string          `json:"subject_id"`
	Mood       int             `json:"mood"`
	Energy     *int            `json:"energy,omitempty"`
	Stress     *int            `json:"stress,omitempty"`
	Sleep      *int            `json:"sleep,omitempty"`
	Notes      string          `json:"notes"`
	Activities []string        `json:"activities"`
	Emotions   []string        `json:"emotions"`
	Revision   int             `json:"revision"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Analysis   *SampleAnalysis `json:"ai_analysis,omitempty"`
}

// SampleAnalysis is attached once per sample revision after risk assessment.
type SampleAnalysis struct {
	AssessmentID     string           `json:"assessment_id"`
	Revision         int              `json:"revision"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Summary          string           `json:"summary"`
	ClassifierStatus ClassifierStatus `json:"classifier_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SampleInput is the raw check-in as submitted by a client. Scale declares
// the range Mood was collected on (5 or 10, default 10).
type SampleInput struct {
	Mood       int      `json:"mood"`
	Scale      int      `json:"scale,omitempty"`
	Energy     *int     `json:"energy,omitempty"`
	Stress     *int     `json:"stress,omitempty"`
	Sleep      *int     `json:"sleep,omitempty"`
	Notes      string   `json:"notes"`
	Activities []string `json:"activities"`
	Emotions   []string `json:"emotions"`
}

// NewSample canonicalizes in and returns an unsaved sample. ID and CreatedAt
// are assigned by the store.
func NewSample(subjectID string, in SampleInput) (MoodSample, error) {
	if strings.TrimSpace(subjectID) == "" {
		return MoodSample{}, fmt.Errorf("%w: subject is required", ErrInvalidSample)
	}
	s := MoodSample{SubjectID: subjectID, Revision: 1}
	if err := s.apply(in); err != nil {
		return MoodSample{}, err
	}
	return s, nil
}

// ApplyEdit replaces the user-editable fields, bumps the revision and drops
// the analysis attached to the previous revision.
func (s *MoodSample) ApplyEdit(in SampleInput) error {
	next := *s
	if err := next.apply(in); err != nil {
		return err
	}
	next.Revision = s.Revision + 1
	next.Analysis = nil
	*s = next
	return nil
}

func (s *MoodSample) apply(in SampleInput) error {
	mood, err := canonicalMood(in.Mood, in.Scale)
	if err != nil {
		return err
	}
	s.Mood = mood
	s.Energy = clampMetric(in.Energy)
	s.Stress = clampMetric(in.Stress)
	s.Sleep = clampMetric(in.Sleep)
	s.Notes = canonicalNotes(in.Notes)
	s.Activities = NormalizeTags(in.Activities)
	s.Emotions = NormalizeTags(in.Emotions)
	return nil
}

func canonicalMood(mood, scale int) (int, error) {
	if mood <= 0 {
		return 0, fmt.Errorf("%w: mood is required", ErrInvalidSample)
	}
	switch scale {
	case 0, 10:
	case 5:
		if mood > 5 {
			mood = 5
		}
		mood = int(math.Round(1 + float64(mood-1)*float64(MoodMax-MoodMin)/4))
	default:
		return 0, fmt.Errorf("%w: unsupported scale %d", ErrInvalidSample, scale)
	}
	return clamp(mood, MoodMin, MoodMax), nil
}

// clampMetric treats non-positive values as "not reported".
func clampMetric(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	c := clamp(*v, MetricMin, MetricMax)
	return &c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func canonicalNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		notes = string([]rune(notes)[:MaxNotesLength])
	}
	return notes
}

// NormalizeTags lowercases, trims, de-duplicates and sorts tags. The result
// is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || utf8.RuneCountInString(t) > maxTagLength {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func SortByCreatedAt(samples []MoodSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].CreatedAt.Before(samples[j].CreatedAt)
	})
}
