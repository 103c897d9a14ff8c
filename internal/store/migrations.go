package store

// schema is valid for both SQLite and PostgreSQL.
const schema = `
CREATE TABLE IF NOT EXISTS subjects (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    categories        TEXT NOT NULL DEFAULT '[]',
    stage             INTEGER,
    raise_amount      DOUBLE PRECISION,
    quality_score     DOUBLE PRECISION,
    status            TEXT NOT NULL DEFAULT 'discovered',
    updated_at        TIMESTAMP NOT NULL,
    team_size         INTEGER,
    technical_founder BOOLEAN,
    prior_exits       INTEGER,
    monthly_revenue   DOUBLE PRECISION,
    customers         INTEGER,
    growth_rate       DOUBLE PRECISION,
    market_size       DOUBLE PRECISION,
    launched          BOOLEAN,
    product_url       TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    mission           TEXT NOT NULL DEFAULT '',
    problem           TEXT NOT NULL DEFAULT '',
    solution          TEXT NOT NULL DEFAULT '',
    target_customer   TEXT NOT NULL DEFAULT '',
    team_background   TEXT NOT NULL DEFAULT '',
    market_notes      TEXT NOT NULL DEFAULT '',
    interview_count   INTEGER,
    has_pilot         BOOLEAN NOT NULL DEFAULT FALSE,
    has_loi           BOOLEAN NOT NULL DEFAULT FALSE,
    assess_attempted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subjects_status ON subjects(status);
CREATE INDEX IF NOT EXISTS idx_subjects_updated_at ON subjects(updated_at);
CREATE INDEX IF NOT EXISTS idx_subjects_quality ON subjects(quality_score);

CREATE TABLE IF NOT EXISTS sponsors (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    categories TEXT NOT NULL DEFAULT '[]',
    stages     TEXT NOT NULL DEFAULT '[]',
    min_check  DOUBLE PRECISION,
    max_check  DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS matches (
    subject_id  TEXT NOT NULL,
    sponsor_id  TEXT NOT NULL,
    score       DOUBLE PRECISION NOT NULL,
    confidence  TEXT NOT NULL,
    explanation TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMP NOT NULL,
    UNIQUE(subject_id, sponsor_id)
);

CREATE INDEX IF NOT EXISTS idx_matches_score ON matches(score);
CREATE INDEX IF NOT EXISTS idx_matches_sponsor ON matches(sponsor_id);
`
