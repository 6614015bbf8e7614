package models

import (
	"fmt"
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

var riskByRank = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank orders levels from 0 (low) to 3 (critical). Unknown levels rank as low.
func (l RiskLevel) Rank() int { return riskRank[l] }

func (l RiskLevel) Valid() bool {
	_, ok := riskRank[l]
	return ok
}

func (l RiskLevel) AtLeast(other RiskLevel) bool { return l.Rank() >= other.Rank() }

// Elevate returns the level n steps higher, capped at critical.
func (l RiskLevel) Elevate(n int) RiskLevel {
	r := l.Rank() + n
	if r >= len(riskByRank) {
		r = len(riskByRank) - 1
	}
	if r < 0 {
		r = 0
	}
	return riskByRank[r]
}

func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if !a.Valid() {
		return RiskLow
	}
	return a
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return RiskLow, fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

type SignalOrigin string

const (
	OriginKeyword    SignalOrigin = "keyword"
	OriginClassifier SignalOrigin = "classifier"
)

type Signal struct {
	Origin     SignalOrigin `json:"origin"`
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
}

// ClassifierStatus records what the external classifier pass contributed.
type ClassifierStatus string

const (
	ClassifierOK       ClassifierStatus = "ok"
	ClassifierNoSignal ClassifierStatus = "no_signal"
	ClassifierFailed   ClassifierStatus = "failed"
	ClassifierTimeout  ClassifierStatus = "timeout"
	ClassifierSkipped  ClassifierStatus = "skipped"
	ClassifierDisabled ClassifierStatus = "disabled"
)

// Contributed reports whether the classifier verdict was merged.
func (s ClassifierStatus) Contributed() bool { return s == ClassifierOK }

type CrisisAssessment struct {
	ID               string           `json:"id"`
	SubjectID        string           `json:"subject_id"`
	SourceSampleID   string           `json:"source_sample_id"`
	SourceRevision   int              `json:"source_revision"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Signals          []Signal         `json:"signals"`
	Recommendations  []string         `json:"recommendations"`
	ClassifierStatus ClassifierStatus `json:"classifier_status"`
	ClassifierError  string           `json:"classifier_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Resolved         bool             `json:"resolved"`
	NotificationSent bool             `json:"notification_sent"`
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

type CrisisAlert struct {
	ID                 string             `db:"id" json:"id"`
	SubjectID          string             `db:"subject_id" json:"subject_id"`
	ResponsiblePartyID *string            `db:"responsible_party_id" json:"responsible_party_id,omitempty"`
	AssessmentID       string             `db:"assessment_id" json:"assessment_id"`
	LatestAssessmentID string             `db:"latest_assessment_id" json:"latest_assessment_id"`
	Urgency            RiskLevel          `db:"urgency" json:"urgency"`
	Resolved           bool               `db:"resolved" json:"resolved"`
	ResolvedBy         *string            `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNote     *string            `db:"resolution_note" json:"resolution_note,omitempty"`
	NotificationStatus NotificationStatus `db:"notification_status" json:"notification_status"`
	NotificationError  *string            `db:"notification_error" json:"notification_error,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// EpisodeState is the per-subject escalation state.
type EpisodeState string

const (
	EpisodeNone     EpisodeState = "NONE"
	EpisodeAlerted  EpisodeState = "ALERTED"
	EpisodeResolved EpisodeState = "RESOLVED"
)

// AlertSummary is the payload handed to a notifier. It carries labels only,
// never the subject's free-text notes.
type AlertSummary struct {
	AlertID         string    `json:"alert_id"`
	SubjectID       string    `json:"subject_id"`
	AssessmentID    string    `json:"assessment_id"`
	Urgency         RiskLevel `json:"urgency"`
	Signals         []string  `json:"signals"`
	Recommendations []string  `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
}
