package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"moodline/internal/models"
)

const subjectColumns = `id, email, password_hash, created_at, first_name, last_name, timezone, responsible_party_id, is_admin`

func (p *PostgresStore) CreateSubject(ctx context.Context, s *models.Subject) error {
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	err := p.db.QueryRowxContext(ctx, `INSERT INTO subjects (id, email, password_hash, timezone)
	                                   VALUES ($1, $2, $3, $4)
	                                   ON CONFLICT (email) DO NOTHING
	                                   RETURNING created_at`, s.ID, s.Email, s.PasswordHash, s.Timezone).Scan(&s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

func (p *PostgresStore) getSubject(ctx context.Context, where string, arg any) (*models.Subject, error) {
	var s models.Subject
	err := p.db.GetContext(ctx, &s, `SELECT `+subjectColumns+` FROM subjects WHERE `+where+`=$1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	return p.getSubject(ctx, "id", id)
}

func (p *PostgresStore) GetSubjectByEmail(ctx context.Context, email string) (*models.Subject, error) {
	return p.getSubject(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (p *PostgresStore) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) error {
	setClauses := []string{}
	args := []any{}
	add := func(column string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if u.FirstName != nil {
		add("first_name", *u.FirstName)
	}
	if u.LastName != nil {
		add("last_name", *u.LastName)
	}
	if u.Timezone != nil {
		add("timezone", *u.Timezone)
	}
	if u.ResponsiblePartyID != nil {
		if *u.ResponsiblePartyID == "" {
			setClauses = append(setClauses, "responsible_party_id=NULL")
		} else {
			add("responsible_party_id", *u.ResponsiblePartyID)
		}
	}
	if len(setClauses) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE subjects SET %s WHERE id=$%d", strings.Join(setClauses, ", "), len(args))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOne(res)
}

func (p *PostgresStore) FindResponsibleParty(ctx context.Context, subjectID string) (string, bool, error) {
	var party sql.NullString
	err := p.db.QueryRowxContext(ctx, `SELECT responsible_party_id FROM subjects WHERE id=$1`, subjectID).Scan(&party)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find responsible party: %w", err)
	}
	if !party.Valid || party.String == "" {
		return "", false, nil
	}
	return party.String, true, nil
}

func (p *PostgresStore) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	err := p.db.QueryRowxContext(ctx, `SELECT
	    (SELECT COUNT(*) FROM subjects),
	    (SELECT COUNT(*) FROM mood_samples),
	    (SELECT COUNT(*) FROM mood_samples WHERE created_at >= NOW() - INTERVAL '7 days'),
	    (SELECT COUNT(*) FROM crisis_alerts WHERE NOT resolved),
	    (SELECT COUNT(*) FROM crisis_alerts WHERE notification_status = 'failed')`).
		Scan(&out.TotalSubjects, &out.TotalSamples, &out.SamplesLast7Days, &out.OpenAlerts, &out.NotificationFailures)
	if err != nil {
		return out, fmt.Errorf("overview counts: %w", err)
	}
	out.Open = []models.CrisisAlert{}
	if err := p.db.SelectContext(ctx, &out.Open, `SELECT `+alertColumns+` FROM crisis_alerts WHERE NOT resolved ORDER BY created_at DESC LIMIT 100`); err != nil {
		return out, fmt.Errorf("overview alerts: %w", err)
	}
	return out, nil
}
