package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"moodline/internal/live"
	"moodline/internal/models"
)

// SampleSealer encrypts and decrypts free-text fields at the storage
// boundary.
type SampleSealer interface {
	SealSample(s *models.MoodSample) error
	OpenSample(s *models.MoodSample) error
}

type PostgresStore struct {
	changes

	db     *sqlx.DB
	sealer SampleSealer
	logger *zap.Logger
}

// NewPostgresStore accepts a nil feed and a nil sealer.
func NewPostgresStore(db *sqlx.DB, feed live.Feed, sealer SampleSealer, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		changes: changes{feed: feed, logger: logger},
		db:      db,
		sealer:  sealer,
		logger:  logger,
	}
}

const sampleColumns = `id, subject_id, mood, energy, stress, sleep, notes, activities, emotions, revision, ai_analysis, created_at, updated_at`

type sampleRow struct {
	ID         string         `db:"id"`
	SubjectID  string         `db:"subject_id"`
	Mood       int            `db:"mood"`
	Energy     *int           `db:"energy"`
	Stress     *int           `db:"stress"`
	Sleep      *int           `db:"sleep"`
	Notes      string         `db:"notes"`
	Activities pq.StringArray `db:"activities"`
	Emotions   pq.StringArray `db:"emotions"`
	Revision   int            `db:"revision"`
	Analysis   []byte         `db:"ai_analysis"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (p *PostgresStore) toSample(r sampleRow) (models.MoodSample, error) {
	s := models.MoodSample{
		ID:         r.ID,
		SubjectID:  r.SubjectID,
		Mood:       r.Mood,
		Energy:     r.Energy,
		Stress:     r.Stress,
		Sleep:      r.Sleep,
		Notes:      r.Notes,
		Activities: append([]string{}, r.Activities...),
		Emotions:   append([]string{}, r.Emotions...),
		Revision:   r.Revision,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if len(r.Analysis) > 0 {
		var a models.SampleAnalysis
		if err := json.Unmarshal(r.Analysis, &a); err != nil {
			return s, fmt.Errorf("decode ai_analysis of %s: %w", r.ID, err)
		}
		s.Analysis = &a
	}
	if p.sealer != nil {
		if err := p.sealer.OpenSample(&s); err != nil {
			return s, fmt.Errorf("open notes of %s: %w", r.ID, err)
		}
	}
	return s, nil
}

func (p *PostgresStore) sealedNotes(s *models.MoodSample) (string, error) {
	if p.sealer == nil {
		return s.Notes, nil
	}
	tmp := models.MoodSample{Notes: s.Notes}
	if err := p.sealer.SealSample(&tmp); err != nil {
		return "", err
	}
	return tmp.Notes, nil
}

// Insert assigns the id and takes created_at from the database clock.
func (p *PostgresStore) Insert(ctx context.Context, s *models.MoodSample) error {
	notes, err := p.sealedNotes(s)
	if err != nil {
		return fmt.Errorf("seal notes: %w", err)
	}
	if s.Revision == 0 {
		s.Revision = 1
	}
	id := uuid.NewString()
	var createdAt, updatedAt time.Time
	err = p.db.QueryRowxContext(ctx, `INSERT INTO mood_samples (id, subject_id, mood, energy, stress, sleep, notes, activities, emotions, revision, created_at, updated_at)
	                                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	                                  RETURNING created_at, updated_at`,
		id, s.SubjectID, s.Mood, s.Energy, s.Stress, s.Sleep, notes,
		pq.StringArray(nonNilStrings(s.Activities)), pq.StringArray(nonNilStrings(s.Emotions)), s.Revision,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	s.ID = id
	s.CreatedAt = createdAt.UTC()
	s.UpdatedAt = updatedAt.UTC()

	p.publish(ctx, models.ChangeSampleCreated, s)
	return nil
}

func (p *PostgresStore) GetSample(ctx context.Context, subjectID, sampleID string) (*models.MoodSample, error) {
	var row sampleRow
	err := p.db.GetContext(ctx, &row, `SELECT `+sampleColumns+` FROM mood_samples WHERE id=$1 AND subject_id=$2`, sampleID, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sample: %w", err)
	}
	s, err := p.toSample(row)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) RangeQuery(ctx context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error) {
	var rows []sampleRow
	err := p.db.SelectContext(ctx, &rows, `SELECT `+sampleColumns+` FROM mood_samples
	                                       WHERE subject_id=$1 AND created_at >= $2 AND created_at <= $3
	                                       ORDER BY created_at ASC`, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	out := make([]models.MoodSample, 0, len(rows))
	for _, r := range rows {
		s, err := p.toSample(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateSample writes an edit only if the stored revision is the one the
// edit was based on.
func (p *PostgresStore) UpdateSample(ctx context.Context, s *models.MoodSample) error {
	notes, err := p.sealedNotes(s)
	if err != nil {
		return fmt.Errorf("seal notes: %w", err)
	}
	var createdAt, updatedAt time.Time
	err = p.db.QueryRowxContext(ctx, `UPDATE mood_samples
	                                  SET mood=$3, energy=$4, stress=$5, sleep=$6, notes=$7, activities=$8, emotions=$9,
	                                      revision=$10, ai_analysis=NULL, updated_at=NOW()
	                                  WHERE id=$1 AND subject_id=$2 AND revision=$11
	                                  RETURNING created_at, updated_at`,
		s.ID, s.SubjectID, s.Mood, s.Energy, s.Stress, s.Sleep, notes,
		pq.StringArray(nonNilStrings(s.Activities)), pq.StringArray(nonNilStrings(s.Emotions)), s.Revision, s.Revision-1,
	).Scan(&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := p.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM mood_samples WHERE id=$1 AND subject_id=$2)`, s.ID, s.SubjectID).Scan(&exists); err != nil {
			return fmt.Errorf("check sample: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleRevision
	}
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	s.CreatedAt = createdAt.UTC()
	s.UpdatedAt = updatedAt.UTC()
	s.Analysis = nil

	p.publish(ctx, models.ChangeSampleUpdated, s)
	return nil
}

// AttachAnalysis is write-once per revision.
func (p *PostgresStore) AttachAnalysis(ctx context.Context, sampleID string, a models.SampleAnalysis) (bool, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE mood_samples SET ai_analysis=$3
	                                   WHERE id=$1 AND revision=$2 AND ai_analysis IS NULL`, sampleID, a.Revision, string(payload))
	if err != nil {
		return false, fmt.Errorf("attach analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
