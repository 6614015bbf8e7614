package models

import "time"

type ChangeKind string

const (
	ChangeSampleCreated ChangeKind = "sample_created"
	ChangeSampleUpdated ChangeKind = "sample_updated"
	ChangeAlertChanged  ChangeKind = "alert_changed"
)

// ChangeEvent tells subscribers that a subject's data changed. It carries no
// payload; consumers re-query.
type ChangeEvent struct {
	SubjectID string     `json:"subject_id"`
	SampleID  string     `json:"sample_id,omitempty"`
	Kind      ChangeKind `json:"kind"`
	At        time.Time  `json:"at"`
}
