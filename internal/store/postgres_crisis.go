package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moodline/internal/models"
)

const assessmentColumns = `id, subject_id, source_sample_id, source_revision, risk_level, signals, recommendations,
classifier_status, classifier_error, resolved, notification_sent, created_at`

type assessmentRow struct {
	ID               string    `db:"id"`
	SubjectID        string    `db:"subject_id"`
	SourceSampleID   string    `db:"source_sample_id"`
	SourceRevision   int       `db:"source_revision"`
	RiskLevel        string    `db:"risk_level"`
	Signals          []byte    `db:"signals"`
	Recommendations  []byte    `db:"recommendations"`
	ClassifierStatus string    `db:"classifier_status"`
	ClassifierError  string    `db:"classifier_error"`
	Resolved         bool      `db:"resolved"`
	NotificationSent bool      `db:"notification_sent"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r assessmentRow) toAssessment() (models.CrisisAssessment, error) {
	a := models.CrisisAssessment{
		ID:               r.ID,
		SubjectID:        r.SubjectID,
		SourceSampleID:   r.SourceSampleID,
		SourceRevision:   r.SourceRevision,
		RiskLevel:        models.RiskLevel(r.RiskLevel),
		Signals:          []models.Signal{},
		Recommendations:  []string{},
		ClassifierStatus: models.ClassifierStatus(r.ClassifierStatus),
		ClassifierError:  r.ClassifierError,
		Resolved:         r.Resolved,
		NotificationSent: r.NotificationSent,
		CreatedAt:        r.CreatedAt.UTC(),
	}
	if len(r.Signals) > 0 {
		if err := json.Unmarshal(r.Signals, &a.Signals); err != nil {
			return a, fmt.Errorf("decode signals of %s: %w", r.ID, err)
		}
	}
	if len(r.Recommendations) > 0 {
		if err := json.Unmarshal(r.Recommendations, &a.Recommendations); err != nil {
			return a, fmt.Errorf("decode recommendations of %s: %w", r.ID, err)
		}
	}
	return a, nil
}

// CreateAssessment inserts one assessment per (sample, revision). When one
// already exists, a is overwritten with the stored record and created is
// false.
func (p *PostgresStore) CreateAssessment(ctx context.Context, a *models.CrisisAssessment) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	signals, err := json.Marshal(nonNilSignals(a.Signals))
	if err != nil {
		return false, err
	}
	recs, err := json.Marshal(nonNilStrings(a.Recommendations))
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO crisis_assessments (`+assessmentColumns+`)
	                                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	                                   ON CONFLICT (source_sample_id, source_revision) DO NOTHING`,
		a.ID, a.SubjectID, a.SourceSampleID, a.SourceRevision, string(a.RiskLevel), string(signals), string(recs),
		string(a.ClassifierStatus), a.ClassifierError, a.Resolved, a.NotificationSent, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert assessment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}

	var row assessmentRow
	if err := p.db.GetContext(ctx, &row, `SELECT `+assessmentColumns+` FROM crisis_assessments
	                                      WHERE source_sample_id=$1 AND source_revision=$2`, a.SourceSampleID, a.SourceRevision); err != nil {
		return false, fmt.Errorf("load existing assessment: %w", err)
	}
	existing, err := row.toAssessment()
	if err != nil {
		return false, err
	}
	*a = existing
	return false, nil
}

func (p *PostgresStore) ListAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisAssessment, error) {
	var rows []assessmentRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+assessmentColumns+` FROM crisis_assessments
	                                          WHERE subject_id=$1 ORDER BY created_at DESC LIMIT $2`, subjectID, effectiveLimit(limit)); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	out := make([]models.CrisisAssessment, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAssessment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// MarkAssessmentNotified flips notification_sent from false to true. It
// reports false if the flag was already set.
func (p *PostgresStore) MarkAssessmentNotified(ctx context.Context, assessmentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE crisis_assessments SET notification_sent=true WHERE id=$1 AND NOT notification_sent`, assessmentID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const alertColumns = `id, subject_id, responsible_party_id, assessment_id, latest_assessment_id, urgency, resolved,
resolved_by, resolved_at, resolution_note, notification_status, notification_error, created_at, updated_at`

// CreateAlertIfNoneOpen relies on the partial unique index over open alerts,
// so the check and the insert are one statement.
func (p *PostgresStore) CreateAlertIfNoneOpen(ctx context.Context, alert *models.CrisisAlert) (bool, *models.CrisisAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	// An open alert can be resolved between the insert and the lookup; one
	// retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		res, err := p.db.ExecContext(ctx, `INSERT INTO crisis_alerts (`+alertColumns+`)
		                                   VALUES ($1, $2, $3, $4, $5, $6, false, NULL, NULL, NULL, $7, NULL, $8, $8)
		                                   ON CONFLICT (subject_id) WHERE NOT resolved DO NOTHING`,
			alert.ID, alert.SubjectID, alert.ResponsiblePartyID, alert.AssessmentID, alert.LatestAssessmentID,
			string(alert.Urgency), string(alert.NotificationStatus), alert.CreatedAt,
		)
		if err != nil {
			return false, nil, fmt.Errorf("insert alert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, nil, err
		}
		if n == 1 {
			return true, nil, nil
		}

		var open models.CrisisAlert
		err = p.db.GetContext(ctx, &open, `SELECT `+alertColumns+` FROM crisis_alerts WHERE subject_id=$1 AND NOT resolved`, alert.SubjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("load open alert: %w", err)
		}
		return false, &open, nil
	}
	return false, nil, fmt.Errorf("open alert for subject %s changed during insert", alert.SubjectID)
}

func (p *PostgresStore) UpdateLatestAssessment(ctx context.Context, alertID, assessmentID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE crisis_alerts SET latest_assessment_id=$2, updated_at=NOW() WHERE id=$1`, alertID, assessmentID)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return expectOne(res)
}

func (p *PostgresStore) SetNotificationStatus(ctx context.Context, alertID string, status models.NotificationStatus, detail *string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE crisis_alerts SET notification_status=$2, notification_error=$3, updated_at=NOW() WHERE id=$1`,
		alertID, string(status), detail)
	if err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}
	return expectOne(res)
}

func (p *PostgresStore) GetAlert(ctx context.Context, alertID string) (*models.CrisisAlert, error) {
	var a models.CrisisAlert
	err := p.db.GetContext(ctx, &a, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id=$1`, alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

// ResolveAlert closes the alert and the subject's outstanding assessments
// in one transaction.
func (p *PostgresStore) ResolveAlert(ctx context.Context, alertID, actorID string, note *string, at time.Time) (bool, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var subjectID string
	err = tx.QueryRowxContext(ctx, `UPDATE crisis_alerts
	                                SET resolved=true, resolved_by=$2, resolved_at=$3, resolution_note=$4, updated_at=$3
	                                WHERE id=$1 AND NOT resolved
	                                RETURNING subject_id`, alertID, actorID, at, note).Scan(&subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE crisis_assessments SET resolved=true
	                                  WHERE subject_id=$1 AND NOT resolved AND created_at <= $2`, subjectID, at); err != nil {
		return false, fmt.Errorf("resolve assessments: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresStore) LatestAlert(ctx context.Context, subjectID string) (*models.CrisisAlert, error) {
	var a models.CrisisAlert
	err := p.db.GetContext(ctx, &a, `SELECT `+alertColumns+` FROM crisis_alerts WHERE subject_id=$1 ORDER BY created_at DESC LIMIT 1`, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest alert: %w", err)
	}
	return &a, nil
}

// ListAlerts lists newest first. An empty subjectID lists every subject.
func (p *PostgresStore) ListAlerts(ctx context.Context, subjectID string, limit int) ([]models.CrisisAlert, error) {
	out := []models.CrisisAlert{}
	var err error
	if subjectID == "" {
		err = p.db.SelectContext(ctx, &out, `SELECT `+alertColumns+` FROM crisis_alerts ORDER BY created_at DESC LIMIT $1`, effectiveLimit(limit))
	} else {
		err = p.db.SelectContext(ctx, &out, `SELECT `+alertColumns+` FROM crisis_alerts WHERE subject_id=$1 ORDER BY created_at DESC LIMIT $2`, subjectID, effectiveLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilSignals(s []models.Signal) []models.Signal {
	if s == nil {
		return []models.Signal{}
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
