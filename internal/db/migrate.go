package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS subjects (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS mood_samples (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
    mood INTEGER NOT NULL CHECK (mood BETWEEN 1 AND 10),
    energy INTEGER CHECK (energy BETWEEN 1 AND 10),
    stress INTEGER CHECK (stress BETWEEN 1 AND 10),
    sleep INTEGER CHECK (sleep BETWEEN 1 AND 10),
    notes TEXT NOT NULL DEFAULT '',
    activities TEXT[] NOT NULL DEFAULT '{}',
    emotions TEXT[] NOT NULL DEFAULT '{}',
    revision INTEGER NOT NULL DEFAULT 1,
    ai_analysis JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS mood_samples_subject_created_idx ON mood_samples (subject_id, created_at);

CREATE TABLE IF NOT EXISTS crisis_assessments (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
    source_sample_id TEXT NOT NULL REFERENCES mood_samples(id) ON DELETE CASCADE,
    source_revision INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    signals JSONB NOT NULL DEFAULT '[]',
    recommendations JSONB NOT NULL DEFAULT '[]',
    classifier_status TEXT NOT NULL,
    classifier_error TEXT NOT NULL DEFAULT '',
    resolved BOOLEAN NOT NULL DEFAULT false,
    notification_sent BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (source_sample_id, source_revision)
);

CREATE INDEX IF NOT EXISTS crisis_assessments_subject_created_idx ON crisis_assessments (subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS crisis_alerts (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
    responsible_party_id TEXT,
    assessment_id TEXT NOT NULL REFERENCES crisis_assessments(id),
    latest_assessment_id TEXT NOT NULL REFERENCES crisis_assessments(id),
    urgency TEXT NOT NULL,
    resolved BOOLEAN NOT NULL DEFAULT false,
    resolved_by TEXT,
    resolved_at TIMESTAMPTZ,
    resolution_note TEXT,
    notification_status TEXT NOT NULL DEFAULT 'pending',
    notification_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- At most one open alert per subject; the alert insert relies on it.
CREATE UNIQUE INDEX IF NOT EXISTS crisis_alerts_one_open_idx ON crisis_alerts (subject_id) WHERE NOT resolved;
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	alters := `
DO $$ BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='subjects' AND column_name='first_name'
    ) THEN
        ALTER TABLE subjects ADD COLUMN first_name TEXT;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='subjects' AND column_name='last_name'
    ) THEN
        ALTER TABLE subjects ADD COLUMN last_name TEXT;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='subjects' AND column_name='timezone'
    ) THEN
        ALTER TABLE subjects ADD COLUMN timezone TEXT NOT NULL DEFAULT 'UTC';
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='subjects' AND column_name='responsible_party_id'
    ) THEN
        ALTER TABLE subjects ADD COLUMN responsible_party_id TEXT;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='subjects' AND column_name='is_admin'
    ) THEN
        ALTER TABLE subjects ADD COLUMN is_admin BOOLEAN NOT NULL DEFAULT false;
    END IF;
END $$;`
	_, err := db.ExecContext(ctx, alters)
	return err
}
